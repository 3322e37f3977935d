package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr       string `yaml:"addr"`
		CatalogTTL int    `yaml:"catalog_ttl_seconds"`
	} `yaml:"redis"`
	Commerce struct {
		BaseURL        string `yaml:"base_url"`
		CheckoutURL    string `yaml:"checkout_url"`
		CheckoutSecret string `yaml:"checkout_secret"`
	} `yaml:"commerce"`
	JWT struct {
		Secret string `yaml:"secret"`
	} `yaml:"jwt"`
	Sessions struct {
		MaxIdleMinutes int `yaml:"max_idle_minutes"`
	} `yaml:"sessions"`
}

func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}

	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		log.Fatalf("Failed to unmarshal config data: %v", err)
	}
	return cfg
}
