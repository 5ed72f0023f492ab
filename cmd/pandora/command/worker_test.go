package command

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/pixil98/go-pandora/internal/directory"
	"github.com/pixil98/go-testutil"
)

func TestBuildWorkers(t *testing.T) {
	dir := t.TempDir()
	catalog := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(catalog, []byte(`[]`), 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}

	shardCfg := &ShardConfig{
		ServerID:            "shard-1",
		CatalogPath:         catalog,
		DirectoryURL:        "ws://directory/shard",
		CreateMissingSpaces: true,
	}
	dirCfg := &DirectoryConfig{
		ServerID:        "directory",
		DefaultShardURL: "ws://shard-1/client",
		Storage: StorageConfig{
			Characters: AssetConfig[*directory.Character]{Path: t.TempDir()},
			Spaces:     AssetConfig[*directory.Space]{Path: t.TempDir()},
		},
	}

	tests := map[string]struct {
		cfg *Config
		exp []string
	}{
		"directory only": {
			cfg: &Config{FlushInterval: "2s", Directory: dirCfg},
			exp: []string{"directory-bus", "listener", "nats"},
		},
		"shard only": {
			cfg: &Config{FlushInterval: "2s", EvictInterval: "1m", Shard: shardCfg},
			exp: []string{"directory-client", "driver", "listener", "nats", "shard", "shard-bus"},
		},
		"both": {
			cfg: &Config{FlushInterval: "2s", Shard: shardCfg, Directory: dirCfg},
			exp: []string{"directory-bus", "directory-client", "driver", "listener", "nats", "shard", "shard-bus"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.cfg.Nats.Port = -1
			workers, err := BuildWorkers(tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var got []string
			for name := range workers {
				got = append(got, name)
			}
			slices.Sort(got)
			testutil.AssertEqual(t, "workers", strings.Join(got, ","), strings.Join(tt.exp, ","))
		})
	}
}

func TestBuildWorkers_WrongConfig(t *testing.T) {
	_, err := BuildWorkers(struct{}{})
	testutil.AssertErrorContains(t, err, "unable to cast config")
}
