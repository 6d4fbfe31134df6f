package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/daemon"
	"github.com/SikeGottem/agent-comms/pkg/client"
	"github.com/spf13/cobra"
)

// EnvAgent sets the default --agent for client commands.
const EnvAgent = "AGENTCOMMS_AGENT"

// clientFlags are the persistent flags shared by commands that talk to a running hub.
type clientFlags struct {
	server string
	apiKey string
	agent  string
	token  string
}

func (cf *clientFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&cf.server, "server", "", "Hub URL (default: the local daemon's address)")
	pf.StringVar(&cf.apiKey, "api-key", "", "API key (default: config or AGENTCOMMS_API_KEY)")
	pf.StringVar(&cf.agent, "agent", "", "Acting agent id (default: AGENTCOMMS_AGENT)")
	pf.StringVar(&cf.token, "token", "", "Bearer token for the acting agent")
}

// client builds an API client. Unset flags fall back to env, the home
// config file, and the running daemon's addr file, in that order.
func (cf *clientFlags) client(ctx context.Context) (*client.Client, error) {
	home := config.MustHomeFrom(ctx)
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	server := cf.server
	if server == "" {
		server = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
		if st, _ := daemon.Status(ctx, home); st.Running && st.Addr != "unknown" {
			if i := strings.LastIndex(st.Addr, ":"); i >= 0 {
				server = "http://127.0.0.1" + st.Addr[i:]
			}
		}
	}
	c := client.New(strings.TrimRight(server, "/"), cf.apiKey)
	if c.APIKey == "" {
		c.APIKey = cfg.APIKey
	}
	c.Agent = cf.agent
	if c.Agent == "" {
		c.Agent = os.Getenv(EnvAgent)
	}
	c.Token = cf.token
	return c, nil
}

func requireAgent(c *client.Client) error {
	if c.Agent == "" {
		return fmt.Errorf("--agent is required (or set %s)", EnvAgent)
	}
	return nil
}

func deref(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
