package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/freekieb7/lctrelay/internal/config"
	"github.com/freekieb7/lctrelay/internal/graph"
	"github.com/freekieb7/lctrelay/internal/logger"
	"github.com/freekieb7/lctrelay/internal/storage"
	"github.com/freekieb7/lctrelay/internal/validator"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// fileConfig is the optional JSON config file. Missing keys keep the
// environment defaults from config.NewConfig.
type fileConfig struct {
	Graph struct {
		RedisURL       string `mapstructure:"redis_url"`
		Name           string `mapstructure:"name"`
		RoomsSource    string `mapstructure:"rooms_source"`
		VisitorsSource string `mapstructure:"visitors_source"`
		RoomFilter     string `mapstructure:"room_filter"`
	} `mapstructure:"graph"`
	Storage struct {
		Type      string `mapstructure:"type"`
		LocalPath string `mapstructure:"local_path"`
		S3Bucket  string `mapstructure:"s3_bucket"`
		S3Region  string `mapstructure:"s3_region"`
	} `mapstructure:"storage"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.NewConfig()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "graphload",
		Short:        "Load rooms, visitors and visits into the contact graph",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cfg, configFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "Path to a JSON configuration file")
	rootCmd.PersistentFlags().String("graph", cfg.Graph.Name, "Graph key")
	rootCmd.PersistentFlags().String("redis", cfg.Graph.RedisURL, "Redis URL")
	_ = viper.BindPFlag("graph.name", rootCmd.PersistentFlags().Lookup("graph"))
	_ = viper.BindPFlag("graph.redis_url", rootCmd.PersistentFlags().Lookup("redis"))

	// Defaults
	viper.SetDefault("graph.redis_url", cfg.Graph.RedisURL)
	viper.SetDefault("graph.name", cfg.Graph.Name)
	viper.SetDefault("graph.rooms_source", cfg.Graph.RoomsSource)
	viper.SetDefault("graph.visitors_source", cfg.Graph.VisitorsSource)
	viper.SetDefault("graph.room_filter", cfg.Graph.RoomFilter)
	viper.SetDefault("storage.type", cfg.Storage.Type)
	viper.SetDefault("storage.local_path", cfg.Storage.LocalPath)
	viper.SetDefault("storage.s3_bucket", cfg.Storage.S3Bucket)
	viper.SetDefault("storage.s3_region", cfg.Storage.S3Region)

	rootCmd.AddCommand(
		newLoadCmd(cfg),
		newVisitCmd(cfg),
		newContactsCmd(cfg),
		newResetCmd(cfg),
	)
	return rootCmd
}

func loadConfig(cfg *config.Config, configFile string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return fmt.Errorf("config file %s: %w", configFile, err)
		}
		viper.SetConfigFile(configFile)
		viper.SetConfigType("json")
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var fc fileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.Graph = config.GraphConfig{
		RedisURL:       fc.Graph.RedisURL,
		Name:           fc.Graph.Name,
		RoomsSource:    fc.Graph.RoomsSource,
		VisitorsSource: fc.Graph.VisitorsSource,
		RoomFilter:     fc.Graph.RoomFilter,
	}
	cfg.Storage = config.StorageConfig{
		Type:      fc.Storage.Type,
		LocalPath: fc.Storage.LocalPath,
		S3Bucket:  fc.Storage.S3Bucket,
		S3Region:  fc.Storage.S3Region,
	}
	return cfg.Validate()
}

// withGraph connects to Redis for the duration of fn.
func withGraph(ctx context.Context, cfg *config.Config, fn func(g *graph.Graph) error) error {
	client, err := graph.Connect(ctx, cfg.Graph)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(graph.New(client, cfg.Graph.Name))
}

func newLoadCmd(cfg *config.Config) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Create room and visitor nodes from the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.New(*cfg)

			store, err := storage.New(ctx, cfg.Storage)
			if err != nil {
				return err
			}

			rooms, read, err := readRooms(ctx, store, cfg.Graph, log.Logger)
			if err != nil {
				return err
			}
			log.Info("Read rooms", "source", cfg.Graph.RoomsSource, "rows", read, "kept", len(rooms), "filter", cfg.Graph.RoomFilter)

			visitors, err := readVisitors(ctx, store, cfg.Graph.VisitorsSource, log.Logger)
			if err != nil {
				return err
			}
			log.Info("Read visitors", "source", cfg.Graph.VisitorsSource, "count", len(visitors))

			return withGraph(ctx, cfg, func(g *graph.Graph) error {
				if reset {
					if err := g.Delete(ctx); err != nil {
						return err
					}
					log.Info("Graph deleted", "graph", g.Name())
				}

				stats, err := g.Load(ctx, rooms, visitors)
				if err != nil {
					return err
				}
				log.Info("Graph loaded", "graph", g.Name(), "rooms", stats.Rooms, "visitors", stats.Visitors)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the graph before loading")
	return cmd
}

func readRooms(ctx context.Context, store storage.Storage, cfg config.GraphConfig, log *slog.Logger) ([]graph.Room, int, error) {
	body, meta, err := storage.Open(ctx, store, cfg.RoomsSource)
	if err != nil {
		return nil, 0, fmt.Errorf("rooms source: %w", err)
	}
	defer body.Close()
	log.Debug("Opened rooms source", "source", cfg.RoomsSource, "size", meta.Size, "content_type", meta.ContentType)

	return graph.ReadRooms(body, cfg.RoomFilter)
}

func readVisitors(ctx context.Context, store storage.Storage, key string, log *slog.Logger) ([]graph.Visitor, error) {
	body, meta, err := storage.Open(ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("visitors source: %w", err)
	}
	defer body.Close()
	log.Debug("Opened visitors source", "source", key, "size", meta.Size, "content_type", meta.ContentType)

	return graph.ReadVisitors(body, validator.New())
}

func newVisitCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "visit <visitor> <room> <date>",
		Short: "Record that a visitor was at a room on a date",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withGraph(ctx, cfg, func(g *graph.Graph) error {
				if err := g.CreateVisit(ctx, args[0], args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s visited %s on %s\n", args[0], args[1], args[2])
				return nil
			})
		},
	}
}

func newContactsCmd(cfg *config.Config) *cobra.Command {
	var (
		date string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "contacts <visitor>",
		Short: "List visitors who shared a room with the visitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var contacts []graph.Contact
			err := withGraph(ctx, cfg, func(g *graph.Graph) error {
				var err error
				contacts, err = g.ContactsOf(ctx, args[0], date)
				return err
			})
			if err != nil {
				return err
			}

			if out == "" {
				return printContacts(cmd.OutOrStdout(), contacts)
			}

			store, err := storage.New(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(contacts, "", "  ")
			if err != nil {
				return err
			}
			if err := store.Put(ctx, out, bytes.NewReader(body), "application/json"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d contacts to %s\n", len(contacts), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Only count visits on this date")
	cmd.Flags().StringVar(&out, "out", "", "Storage key to write the contacts to as JSON")
	return cmd
}

func printContacts(w io.Writer, contacts []graph.Contact) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VISITOR\tROOM\tDATE")
	for _, c := range contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Visitor, c.Room, c.Date)
	}
	return tw.Flush()
}

func newResetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the contact graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withGraph(ctx, cfg, func(g *graph.Graph) error {
				if err := g.Delete(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted graph %s\n", g.Name())
				return nil
			})
		},
	}
}
