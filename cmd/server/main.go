package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"captainDispatch/internal/config"
	"captainDispatch/internal/db"
	"captainDispatch/internal/dispatch"
	"captainDispatch/internal/events"
	"captainDispatch/internal/httpapi"
	"captainDispatch/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("Configuration loaded: %v", cfg)

	// Open DB
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}()

	users := repository.NewUserRepository(d)
	orders := repository.NewOrderRepository(d)
	deliveries := repository.NewDeliveryRepository(d)
	captains := repository.NewCaptainRepository(d)
	notifications := repository.NewNotificationRepository(d)

	// Event channel: RabbitMQ when configured, in-process otherwise.
	var bus events.Bus
	if cfg.AMQP.URL != "" {
		rb, err := events.DialRabbit(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatalf("dial rabbitmq: %v", err)
		}
		defer rb.Close()
		bus = rb
		log.Printf("event channel: rabbitmq exchange %q", cfg.AMQP.Exchange)
	} else {
		bus = events.NewMemoryBus()
		log.Printf("event channel: in-process")
	}

	broadcaster := dispatch.NewBroadcaster(orders, captains, notifications, bus, cfg.Offers.AvailabilityTTL)
	broadcaster.Start()
	defer broadcaster.Stop()

	resolver := dispatch.NewResolver(orders, deliveries, notifications, bus, cfg.Offers.DialogTTL)
	workflow := dispatch.NewWorkflow(orders, deliveries, notifications, bus)

	h := httpapi.NewHandler(cfg, users, orders, deliveries, captains, notifications, broadcaster, resolver, workflow, bus)
	shutdown, err := httpapi.Start(cfg, h)
	if err != nil {
		log.Fatalf("start http: %v", err)
	}
	log.Printf("HTTP server listening on %s", cfg.HTTP.Address)

	// Wait for signal
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
