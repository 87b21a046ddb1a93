package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"masto-digest/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(prometheus.DefaultRegisterer).ExecuteContext(ctx); err != nil {
		if errors.Is(err, domain.ErrInterrupted) {
			log.Warn().Msg("masto-digest: прервано")
			os.Exit(130)
		}
		log.Error().Err(err).Msg("masto-digest: ошибка")
		os.Exit(1)
	}
}
