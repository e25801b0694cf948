package github

import "github.com/Strob0t/ForgeTrack/internal/port/repoprovider"

func init() {
	repoprovider.Register(providerName, func(cfg map[string]string) (repoprovider.Provider, error) {
		return NewProvider(cfg[repoprovider.ConfigBaseURL], cfg[repoprovider.ConfigToken])
	})
}
