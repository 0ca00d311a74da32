// Package daemon wires the bridge pipeline together: connection
// manager in, normalizer and gateway client in the middle, replies back
// out through the channel.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/umflabs/wabridge/pkg/channels"
	"github.com/umflabs/wabridge/pkg/config"
	"github.com/umflabs/wabridge/pkg/gateway"
	"github.com/umflabs/wabridge/pkg/logger"
	"github.com/umflabs/wabridge/pkg/media"
	"github.com/umflabs/wabridge/pkg/normalize"
	"github.com/umflabs/wabridge/pkg/status"
	"github.com/umflabs/wabridge/pkg/statusapi"
	"github.com/umflabs/wabridge/pkg/umf"
)

type forwarder interface {
	Forward(ctx context.Context, env *umf.Message) gateway.Result
}

type sender interface {
	Send(ctx context.Context, toJID, text string) error
}

type Daemon struct {
	cfg      *config.Config
	record   *status.Record
	channel  *channels.WhatsAppChannel
	send     sender
	gateway  forwarder
	notifier *gateway.Notifier
	api      *statusapi.Server
}

func New(cfg *config.Config) (*Daemon, error) {
	record := status.NewRecord(cfg.ServicePhone, cfg.GatewayURL)

	if err := os.MkdirAll(cfg.SessionPath(), 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		record:   record,
		gateway:  gateway.NewClient(cfg.GatewayURL, normalize.ChannelID, cfg.GatewayTimeout, record),
		notifier: gateway.NewNotifier(cfg.GatewayWSURL, normalize.ChannelID),
	}

	machine := channels.NewMachine(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnectAttempts)
	mediaStore := media.NewStore(cfg.MediaPath())

	ch, err := channels.NewWhatsAppChannel(cfg.DatabasePath(), machine, record, mediaStore, d.handleInbound)
	if err != nil {
		return nil, err
	}
	ch.SetLifecycleHook(d.notifier.Notify)
	d.channel = ch
	d.send = ch

	if cfg.StatusAddr != "" {
		d.api = statusapi.NewServer(cfg.StatusAddr, record)
	}
	return d, nil
}

// Run starts the pipeline and blocks until ctx is cancelled, then shuts
// down cleanly.
func (d *Daemon) Run(ctx context.Context) error {
	d.banner()
	d.record.SetRunning(true)

	if d.api != nil {
		d.api.Start()
	}

	if err := d.channel.Start(ctx); err != nil {
		return fmt.Errorf("start channel: %w", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.record.Tick()
		case <-ctx.Done():
			logger.InfoC("daemon", "Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = d.channel.Stop(shutdownCtx)
			if d.api != nil {
				_ = d.api.Shutdown(shutdownCtx)
			}
			d.notifier.Close()
			d.record.SetRunning(false)
			return nil
		}
	}
}

// handleInbound runs once per accepted message: normalize, forward,
// reply. Nothing in here may crash the process; every failure ends as a
// logged no-op for this one message.
func (d *Daemon) handleInbound(ctx context.Context, in normalize.Inbound) {
	env := normalize.Request(in, d.cfg.AgentID)

	res := d.gateway.Forward(ctx, env)
	switch res.Outcome {
	case gateway.Delivered:
		d.reply(ctx, in.SenderJID, res.Text)
	case gateway.Unavailable, gateway.Malformed:
		if d.cfg.EchoMode {
			d.reply(ctx, in.SenderJID, "[Echo] "+in.Text)
			return
		}
		// No reply at all; the failure is operator-visible only.
		logger.DebugCF("daemon", "No reply for message", map[string]interface{}{
			"message_id": in.MessageID,
			"outcome":    res.Outcome.String(),
		})
	}
}

func (d *Daemon) reply(ctx context.Context, toJID, text string) {
	if err := d.send.Send(ctx, toJID, text); err != nil {
		logger.WarnCF("daemon", "Reply not delivered", map[string]interface{}{
			"jid":   toJID,
			"error": err.Error(),
		})
	}
}

func (d *Daemon) banner() {
	logger.InfoC("daemon", "WhatsApp UMF bridge starting")
	logger.InfoCF("daemon", "Configuration", map[string]interface{}{
		"service_phone": d.cfg.ServicePhone,
		"gateway_url":   d.cfg.GatewayURL,
		"echo_mode":     d.cfg.EchoMode,
		"session_dir":   d.cfg.SessionPath(),
	})
}
