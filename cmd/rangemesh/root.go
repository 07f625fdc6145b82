package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rangemesh/rangemesh/internal/config"
	"github.com/rangemesh/rangemesh/internal/core"
	"github.com/rangemesh/rangemesh/internal/estimate"
	"github.com/rangemesh/rangemesh/internal/node"
	"github.com/rangemesh/rangemesh/internal/radio"
	"github.com/rangemesh/rangemesh/internal/registry"
	"github.com/rangemesh/rangemesh/internal/relay"
	"github.com/rangemesh/rangemesh/internal/report"
	"github.com/rangemesh/rangemesh/internal/store"
	"github.com/rangemesh/rangemesh/internal/trust"
	"github.com/rangemesh/rangemesh/internal/utils"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "rangemesh",
	Short: "RSSI ranging mesh node",
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a mesh node in the configured role",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := node.ParseRole(cfg.Role)
		if err != nil {
			return err
		}
		if cfg.SharedKey == "" {
			return fmt.Errorf("a shared key is required (--shared-key)")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		identityPath := fmt.Sprintf("identity_%d.json", cfg.Port)
		id, err := core.LoadOrGenerateIdentity(identityPath)
		if err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}

		r, err := radio.NewUDPRadio(ctx, cfg.Port)
		if err != nil {
			return fmt.Errorf("failed to bring up radio: %w", err)
		}
		defer r.Close()

		reg := registry.New(registry.DefaultCapacity, r.AddPeer)
		engine := relay.NewEngine(relay.DefaultCapacity, relay.DefaultExpiry, relay.DefaultCooldown)
		model := estimate.DistanceModel{
			RSSIRef:     cfg.RSSIRef,
			PathLossExp: cfg.PathLossExp,
			MaxDistance: cfg.MaxDistance,
		}

		var sink node.Sink
		if role == node.RoleGateway {
			s, err := buildGatewaySink(ctx, reg)
			if err != nil {
				return err
			}
			sink = s
		}

		n, err := node.New(node.Options{
			Role:      role,
			Identity:  id,
			Owner:     cfg.Owner,
			Name:      cfg.Name,
			Radio:     r,
			Gate:      trust.NewGate(cfg.SharedKey, cfg.Passkey),
			Registry:  reg,
			Relays:    engine,
			Model:     model,
			Sink:      sink,
			SharedKey: cfg.SharedKey,
			Passkey:   cfg.Passkey,
		})
		if err != nil {
			return err
		}

		printJoinHint()
		slog.Info("Starting rangemesh", "role", role, "port", cfg.Port, "name", cfg.Name)
		return n.Run(ctx)
	},
}

// buildGatewaySink wires the reporting collaborator: JSON lines on
// stdout, the sqlite archive, and the optional webhook uplink.
func buildGatewaySink(ctx context.Context, reg *registry.Registry) (*gatewaySink, error) {
	db, err := store.Init(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init archive db: %w", err)
	}
	s := &gatewaySink{
		writer: report.NewWriter(os.Stdout),
		db:     db,
	}
	if cfg.WebhookURL != "" {
		s.uplink = make(chan report.Record, 100)
		report.NewUplink(cfg.WebhookURL).Start(s.uplink)
	}
	go snapshotPeers(ctx, reg, db)
	return s, nil
}

// snapshotPeers periodically archives last-known peer state for post-hoc
// inspection.
func snapshotPeers(ctx context.Context, reg *registry.Registry, db *gorm.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range reg.Snapshot() {
				snap := store.PeerSnapshot{
					ID:        p.ID,
					Owner:     p.Owner,
					Addr:      p.Addr,
					RSSI:      p.RSSI,
					Distance:  p.Position.Distance,
					Direction: p.Position.Direction,
					Validated: p.Validated,
					LastSeen:  p.LastSeen,
					Active:    p.Active,
				}
				if err := store.UpsertPeerSnapshot(db, snap); err != nil {
					slog.Error("Failed to archive peer snapshot", "peer", p.ID, "error", err)
				}
			}
		}
	}
}

func printJoinHint() {
	ip, _ := utils.GetOutboundIP()
	addr := fmt.Sprintf("%s:%d", ip, cfg.Port)
	qr, err := qrcode.New(addr, qrcode.Medium)
	if err == nil {
		fmt.Println("\nSCAN TO JOIN MESH:")
		fmt.Println(qr.ToString(false))
	}
	fmt.Println("NODE ADDRESS:", addr)
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVarP(&cfg.Role, "role", "r", "peer", "Node role: peer, tower or gateway")
	startCmd.Flags().IntVarP(&cfg.Port, "port", "p", 9000, "Radio port to listen on")
	startCmd.Flags().StringVarP(&cfg.Name, "name", "n", "node", "Human-readable node name")
	startCmd.Flags().StringVarP(&cfg.Owner, "owner", "o", "Anonymous", "Owner label stamped on outbound messages")
	startCmd.Flags().StringVar(&cfg.SharedKey, "shared-key", "", "Pre-shared mesh key")
	startCmd.Flags().StringVar(&cfg.Passkey, "passkey", "", "Second-tier relay passkey")
	startCmd.Flags().StringVar(&cfg.WebhookURL, "webhook", "", "Webhook URL for gateway uplink")
	startCmd.Flags().StringVar(&cfg.DBPath, "db", "gateway.db", "Gateway archive database path")
	startCmd.Flags().Float64Var(&cfg.RSSIRef, "rssi-ref", -40, "Calibrated RSSI at 1 meter")
	startCmd.Flags().Float64Var(&cfg.PathLossExp, "path-loss", 2.0, "Path-loss exponent")
	startCmd.Flags().Float64Var(&cfg.MaxDistance, "max-distance", 100, "Distance estimate clamp in meters")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
