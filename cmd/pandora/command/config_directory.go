package command

import (
	"fmt"
	"os"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-pandora/internal/directory"
	"github.com/pixil98/go-pandora/internal/storage"
)

type DirectoryConfig struct {
	ServerID        string            `json:"server_id"`
	DefaultShardURL string            `json:"default_shard_url,omitempty"`
	ShardURLs       map[string]string `json:"shard_urls,omitempty"`
	Storage         StorageConfig     `json:"storage"`
}

func (c *DirectoryConfig) validate() error {
	el := errors.NewErrorList()

	if c.ServerID == "" {
		el.Add(fmt.Errorf("directory: server_id is required"))
	}
	if c.DefaultShardURL == "" && len(c.ShardURLs) == 0 {
		el.Add(fmt.Errorf("directory: default_shard_url or shard_urls is required"))
	}
	for space, url := range c.ShardURLs {
		if url == "" {
			el.Add(fmt.Errorf("directory: shard url for space %q is empty", space))
		}
	}
	el.Add(c.Storage.validate())

	return el.Err()
}

func (c *DirectoryConfig) buildServer(opts ...directory.ServerOpt) (*directory.Server, error) {
	chars, err := c.Storage.Characters.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating character store: %w", err)
	}
	spaces, err := c.Storage.Spaces.BuildFileStore()
	if err != nil {
		return nil, fmt.Errorf("creating space store: %w", err)
	}

	if c.DefaultShardURL != "" {
		opts = append(opts, directory.WithDefaultShardURL(c.DefaultShardURL))
	}
	for space, url := range c.ShardURLs {
		opts = append(opts, directory.WithShardURL(space, url))
	}

	return directory.NewServer(c.ServerID, chars, spaces, opts...)
}

type StorageConfig struct {
	Characters AssetConfig[*directory.Character] `json:"characters"`
	Spaces     AssetConfig[*directory.Space]     `json:"spaces"`
}

func (c *StorageConfig) validate() error {
	el := errors.NewErrorList()
	el.Add(c.Characters.Validate("characters"))
	el.Add(c.Spaces.Validate("spaces"))
	return el.Err()
}

type AssetConfig[T storage.ValidatingSpec] struct {
	Path string `json:"path"`
}

func (c *AssetConfig[T]) Validate(name string) error {
	if c.Path == "" {
		return fmt.Errorf("%s: path is required", name)
	}
	_, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("%s: invalid path %q: %w", name, c.Path, err)
	}

	return nil
}

func (c *AssetConfig[T]) BuildFileStore() (*storage.FileStore[T], error) {
	return storage.NewFileStore[T](c.Path)
}
