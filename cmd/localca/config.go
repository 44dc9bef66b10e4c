package main

import (
	"github.com/kelseyhightower/envconfig"
)

// directory defaults come from env (LOCALCA_CA_DIR, LOCALCA_CERT_DIR); CLI
// flags override
type config struct {
	CADir   string `envconfig:"CA_DIR" default:"./ssl_ca"`
	CertDir string `envconfig:"CERT_DIR" default:"./ssl_certs"`
}

func readConfigFromEnv() (*config, error) {
	conf := &config{}
	if err := envconfig.Process("localca", conf); err != nil {
		return nil, err
	}

	return conf, nil
}
