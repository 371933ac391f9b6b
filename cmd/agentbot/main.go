package main

import (
	"log"

	"github.com/m3rciful/agentbot/agent/app"
	corecmd "github.com/m3rciful/agentbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      corecmd.DefaultConfigEnvVar,
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := app.Load(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: app.Bootstrap,
	})
	if err != nil {
		log.Fatalf("agentbot: %v", err)
	}
}
