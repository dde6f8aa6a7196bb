package cmd

import (
	"fmt"

	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/utils"
	"github.com/rankwatch/rankwatch/pkg/servers"
	"github.com/rankwatch/rankwatch/pkg/servers/akatsuki"
	"github.com/rankwatch/rankwatch/pkg/servers/bancho"
	"github.com/rankwatch/rankwatch/pkg/servers/titanic"
	"github.com/rankwatch/rankwatch/pkg/whttp"
)

// buildRegistry creates a client for every enabled server.
func buildRegistry(cfg *config.Config) (*servers.Registry, error) {
	reg, err := servers.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, name := range cfg.EnabledServers() {
		sc := cfg.Servers[name]
		log := utils.Component(name)
		fetcher := whttp.NewClient(whttp.Options{
			Retries:    sc.Retries,
			RetryDelay: sc.RetryDelay,
			Timeout:    sc.Timeout,
			Log:        log,
		})
		base := []servers.BaseOption{servers.WithLogger(log)}

		var srv servers.Server
		switch name {
		case akatsuki.Name:
			srv = akatsuki.New(fetcher, akatsuki.Options{BaseURL: sc.BaseURL, RequestInterval: sc.RequestInterval, Base: base})
		case titanic.Name:
			srv = titanic.New(fetcher, titanic.Options{BaseURL: sc.BaseURL, RequestInterval: sc.RequestInterval, Base: base})
		case bancho.Name:
			srv = bancho.New(fetcher, bancho.Options{
				BaseURL:         sc.BaseURL,
				ClientID:        sc.ClientID,
				ClientSecret:    sc.ClientSecret,
				RequestInterval: sc.RequestInterval,
				Base:            base,
			})
		default:
			return nil, fmt.Errorf("unknown server %q", name)
		}
		if err := reg.Register(srv); err != nil {
			return nil, err
		}
		utils.Log.Debugf("Registered %s (%s)", name, srv.Capabilities().Flags)
	}
	return reg, nil
}
