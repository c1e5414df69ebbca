package app

import (
	"context"
	"sync/atomic"

	"auratask/internal/channel"
	"auratask/internal/model"
	logx "auratask/pkg/logx"
)

// registerSenders (re)installs one sender per configured channel. A channel
// without credentials is removed, so delivery records a permanent failure
// for users who enabled it.
func registerSenders(reg *channel.Registry, cs channelSettings, alerts *alertProxy, log logx.Logger) {
	reg.Apply(cs.Registry)

	if cs.EmailOn {
		reg.Register(model.ChannelEmail, channel.NewEmail(cs.Email))
	} else {
		reg.Register(model.ChannelEmail, nil)
		log.Info("email channel not configured")
	}

	var tg *channel.Telegram
	if cs.Telegram.Token != "" {
		var err error
		tg, err = channel.NewTelegram(cs.Telegram, cs.Registry.SendTimeout)
		if err != nil {
			log.Warn("telegram channel init failed", logx.Err(err))
		}
	}
	if tg != nil {
		reg.Register(model.ChannelTelegram, tg)
	} else {
		reg.Register(model.ChannelTelegram, nil)
	}
	alerts.set(tg)

	if cs.DiscordOn {
		reg.Register(model.ChannelDiscord, channel.NewDiscord(cs.Discord, nil))
	} else {
		reg.Register(model.ChannelDiscord, nil)
	}

	log.Debug("channel senders registered",
		logx.Bool("email", reg.Has(model.ChannelEmail)),
		logx.Bool("telegram", reg.Has(model.ChannelTelegram)),
		logx.Bool("discord", reg.Has(model.ChannelDiscord)),
	)
}

// alertProxy lets the log service keep one Alerter while the Telegram sender
// is rebuilt on reload.
type alertProxy struct {
	tg atomic.Pointer[channel.Telegram]
}

func (p *alertProxy) set(tg *channel.Telegram) { p.tg.Store(tg) }

func (p *alertProxy) Alert(ctx context.Context, text string) error {
	if tg := p.tg.Load(); tg != nil {
		return tg.Alert(ctx, text)
	}
	return nil
}
