// Команда softcall — демонстрационный SIP клиент: вызовы с согласованием
// медиа, удержание, перевод и регистрация на прокси.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/soft_call/pkg/call"
	"github.com/arzzra/soft_call/pkg/core"
	"github.com/arzzra/soft_call/pkg/media_engine"
	"github.com/arzzra/soft_call/pkg/signaling_sipgo"
)

func main() {
	var (
		username  = flag.String("user", "alice", "Имя пользователя")
		host      = flag.String("host", "127.0.0.1", "Локальный адрес")
		port      = flag.Int("port", 5060, "Локальный SIP порт")
		transport = flag.String("transport", "udp", "Транспорт: udp или tcp")
		target    = flag.String("target", "", "Адрес исходящего вызова (sip:bob@host)")
		registrar = flag.String("registrar", "", "Адрес регистратора (sip:proxy.example.com)")
		srtpOn    = flag.Bool("srtp", false, "Предлагать SRTP (SDES)")
		duration  = flag.Duration("duration", 30*time.Second, "Длительность исходящего вызова")
		debug     = flag.Bool("debug", false, "Подробное логирование")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*username, *host, *port, *transport, *target, *registrar, *srtpOn, *duration, logger); err != nil {
		log.Fatalf("Ошибка: %v", err)
	}
}

func run(username, host string, port int, transport, target, registrar string, srtpOn bool, duration time.Duration, logger *slog.Logger) error {
	stack, err := signaling_sipgo.NewStack(signaling_sipgo.Config{
		UserAgent: "softcall/1.0",
		Username:  username,
		Host:      host,
		Port:      port,
		Transport: transport,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("создание SIP стека: %w", err)
	}
	defer stack.Shutdown()

	engine := media_engine.New(logger)
	ports := media_engine.NewPortPool(10000, 10998, media_engine.PortAllocationSequential)

	params := call.DefaultMediaParams()
	params.SRTPEnabled = srtpOn
	params.EncryptionMandatory = false

	c, err := core.New(core.Deps{
		Provider: stack,
		Media:    engine,
		Ports:    ports,
		Callbacks: core.Callbacks{
			OnIncomingCall: func(cl *call.Call) {
				log.Printf("=== ВХОДЯЩИЙ ВЫЗОВ от %s ===", cl.Operation().From())
				if err := cl.Accept(); err != nil {
					log.Printf("Ошибка ответа: %v", err)
				}
			},
			OnCallState: func(cl *call.Call, st call.State, message string) {
				log.Printf("Вызов %s: %s (%s)", cl.ID(), st, message)
			},
			OnRegistrationState: func(r *core.Registration, state, message string) {
				log.Printf("Регистрация %s: %s (%s)", r.Account(), state, message)
			},
			OnTextReceived: func(from, text string) {
				log.Printf("Сообщение от %s: %s", from, text)
			},
		},
	},
		core.WithLogger(logger),
		core.WithUser(username, username),
		core.WithLocalAddr(host),
		core.WithMediaParams(params),
		core.WithMetrics(prometheus.DefaultRegisterer, "softcall"),
	)
	if err != nil {
		return fmt.Errorf("создание ядра: %w", err)
	}
	stack.Handler = c.HandleEvent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := stack.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Printf("SIP стек остановлен: %v", err)
		}
	}()
	go c.Run(ctx)

	if registrar != "" {
		account := fmt.Sprintf("%s@%s", username, host)
		if _, err := c.Register(account, registrar, host); err != nil {
			return fmt.Errorf("регистрация: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if target != "" {
		log.Printf("Исходящий вызов на %s", target)
		cl, err := c.Invite(target, params)
		if err != nil {
			return fmt.Errorf("исходящий вызов: %w", err)
		}
		select {
		case <-time.After(duration):
			log.Printf("Время вызова истекло, завершаем")
			if err := cl.Terminate(); err != nil {
				log.Printf("Завершение вызова: %v", err)
			}
		case <-sigCh:
			log.Printf("Прерывание, завершаем вызов")
			_ = cl.Terminate()
		}
		// Даем стеку время на обмен BYE
		time.Sleep(500 * time.Millisecond)
		return nil
	}

	log.Printf("Ожидание входящих вызовов на %s:%d (%s), Ctrl+C для выхода", host, port, transport)
	<-sigCh
	log.Printf("Остановка")
	for _, cl := range c.Calls() {
		_ = cl.Terminate()
	}
	time.Sleep(500 * time.Millisecond)
	return nil
}
