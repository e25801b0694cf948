package main

// Each import registers a repository provider with repoprovider or an alert
// channel with notifier.

import (
	_ "github.com/Strob0t/ForgeTrack/internal/adapter/bitbucket"
	_ "github.com/Strob0t/ForgeTrack/internal/adapter/discord"
	_ "github.com/Strob0t/ForgeTrack/internal/adapter/github"
	_ "github.com/Strob0t/ForgeTrack/internal/adapter/gitlab"
	_ "github.com/Strob0t/ForgeTrack/internal/adapter/slack"
)
