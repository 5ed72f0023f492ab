package command

import (
	"fmt"
	"os"
	"time"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/network"
	"github.com/pixil98/go-pandora/internal/shard"
	"github.com/pixil98/go-pandora/internal/state"
)

type ShardConfig struct {
	ServerID     string `json:"server_id"`
	CatalogPath  string `json:"catalog_path"`
	AssetsSource string `json:"assets_source"`
	DirectoryURL string `json:"directory_url"`
	RedialDelay  string `json:"redial_delay,omitempty"`
	// CreateMissingSpaces asks the directory to create a space the first
	// time a client enters it.
	CreateMissingSpaces bool `json:"create_missing_spaces,omitempty"`
}

func (c *ShardConfig) validate() error {
	el := errors.NewErrorList()

	if c.ServerID == "" {
		el.Add(fmt.Errorf("shard: server_id is required"))
	}
	if c.CatalogPath == "" {
		el.Add(fmt.Errorf("shard: catalog_path is required"))
	} else if _, err := os.Stat(c.CatalogPath); err != nil {
		el.Add(fmt.Errorf("shard: invalid catalog_path %q: %w", c.CatalogPath, err))
	}
	if c.DirectoryURL == "" {
		el.Add(fmt.Errorf("shard: directory_url is required"))
	}
	if c.RedialDelay != "" {
		if _, err := time.ParseDuration(c.RedialDelay); err != nil {
			el.Add(fmt.Errorf("shard: parsing redial_delay: %w", err))
		}
	}

	return el.Err()
}

func (c *ShardConfig) buildDirectory() *shard.RemoteDirectory {
	var opts []shard.RemoteDirectoryOpt
	if d, err := time.ParseDuration(c.RedialDelay); err == nil {
		opts = append(opts, shard.WithRedialDelay(d))
	}
	return shard.NewRemoteDirectory(c.DirectoryURL, opts...)
}

func (c *ShardConfig) buildShard(registry *network.Registry, dir shard.Directory, sender network.GroupSender) (*shard.Shard, error) {
	catalog, err := state.LoadAssetCatalog(c.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading asset catalog: %w", err)
	}

	opts := []shard.ShardOpt{
		shard.WithAssetsSource(c.AssetsSource),
		shard.WithGroupSender(sender),
	}
	if c.CreateMissingSpaces {
		opts = append(opts, shard.WithSpaceCreation())
	}
	return shard.NewShard(registry, catalog, dir, opts...)
}
