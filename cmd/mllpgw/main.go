package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/co-capacity/HeliosMLLP/internal/client"
	"github.com/co-capacity/HeliosMLLP/internal/config"
	"github.com/co-capacity/HeliosMLLP/internal/mllp"
	"github.com/co-capacity/HeliosMLLP/internal/observability"
	"github.com/co-capacity/HeliosMLLP/internal/protocol"
	"github.com/co-capacity/HeliosMLLP/internal/publish"
	"github.com/co-capacity/HeliosMLLP/internal/server"
	"github.com/co-capacity/HeliosMLLP/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFlag    string
	portFlag      int
	httpPortFlag  int
	decoderFlag   string
	gatewayFlag   string
	noRedisFlag   bool
	noNATSFlag    bool
	addrFlag      string
	waitFlag      time.Duration
	segmentCRFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mllpgw",
		Short: "MLLP gateway",
		Long: `mllpgw accepts MLLP connections, extracts the framed messages and
publishes them to NATS. Open connections are tracked in Redis and can be
written to through NATS or the HTTP API.`,
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVarP(&configFlag, "config", "c", "", "TOML config file")
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "MLLP listen port")
	serveCmd.Flags().IntVar(&httpPortFlag, "http-port", 0, "HTTP API port, 0 keeps the configured value")
	serveCmd.Flags().StringVar(&decoderFlag, "decoder", "", "Decoder strategy: "+strings.Join(mllp.Strategies(), ", "))
	serveCmd.Flags().StringVar(&gatewayFlag, "gateway-id", "", "Gateway ID")
	serveCmd.Flags().BoolVar(&noRedisFlag, "no-redis", false, "Do not track sessions in Redis")
	serveCmd.Flags().BoolVar(&noNATSFlag, "no-nats", false, "Do not publish frames to NATS")

	sendCmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send one message to an MLLP listener",
		Long: `Send the contents of file, or stdin when no file is given, as one
MLLP frame. With --wait the reply frame is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSend,
	}
	sendCmd.Flags().StringVarP(&addrFlag, "addr", "a", "localhost:2575", "MLLP listener address")
	sendCmd.Flags().DurationVarP(&waitFlag, "wait", "w", 0, "Wait this long for a reply")
	sendCmd.Flags().BoolVar(&segmentCRFlag, "cr", true, "Convert line feeds to carriage returns")

	strategiesCmd := &cobra.Command{
		Use:   "decoders",
		Short: "List decoder strategies",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range mllp.Strategies() {
				fmt.Println(name)
			}
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mllpgw %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(serveCmd, sendCmd, strategiesCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(configFlag)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.MLLPPort = portFlag
	}
	if flags.Changed("http-port") {
		cfg.HTTPPort = httpPortFlag
	}
	if flags.Changed("decoder") {
		cfg.Decoder = decoderFlag
	}
	if flags.Changed("gateway-id") {
		cfg.GatewayID = gatewayFlag
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := observability.InitLogger("mllpgw", cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Str("gateway_id", cfg.GatewayID).
		Int("mllp_port", cfg.MLLPPort).
		Str("decoder", cfg.Decoder).
		Msg("configuration loaded")
	observability.RegisterMetrics()

	var registry server.SessionRegistry = session.Nop{}
	if !noRedisFlag {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
			DB:   0,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		logger.Info().Str("addr", cfg.RedisURL).Msg("connected to redis")
		registry = session.NewRedisRegistry(redisClient, cfg.SessionTTL)
	}

	var publisher server.Publisher = publish.Discard{}
	var natsPub *publish.NATSPublisher
	if !noNATSFlag {
		natsConn, err := nats.Connect(cfg.NATSURL, nats.Name("mllpgw-"+cfg.GatewayID))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer natsConn.Close()
		logger.Info().Str("url", cfg.NATSURL).Bool("jetstream", cfg.JetStream).Msg("connected to nats")

		natsPub, err = publish.NewNATSPublisher(natsConn, cfg.SubjectPrefix, cfg.GatewayID, cfg.JetStream)
		if err != nil {
			return err
		}
		publisher = natsPub
	}

	tcpServer, err := server.NewTCPServer(cfg, publisher, registry, logger)
	if err != nil {
		return err
	}
	if err := tcpServer.Start(); err != nil {
		return err
	}

	if natsPub != nil {
		sub, err := natsPub.SubscribeDownlink(tcpServer.HandleCommand, func(err error) {
			logger.Warn().Err(err).Msg("downlink command failed")
		})
		if err != nil {
			tcpServer.Stop()
			return err
		}
		defer sub.Unsubscribe()
		logger.Info().Str("subject", protocol.DownlinkSubject(cfg.SubjectPrefix, cfg.GatewayID)).Msg("listening for downlink commands")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	tcpServer.Stop()
	logger.Info().Msg("gateway stopped")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	var (
		payload []byte
		err     error
	)
	if len(args) == 1 {
		payload, err = os.ReadFile(args[0])
	} else {
		payload, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	if segmentCRFlag {
		payload = toSegments(payload)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, addrFlag, mllp.DefaultConfig())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Send(payload); err != nil {
		return err
	}
	logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()
	logger.Info().Str("addr", addrFlag).Int("bytes", len(payload)).Msg("message sent")

	if waitFlag <= 0 {
		return nil
	}
	reply, err := c.Receive(waitFlag)
	if err != nil {
		return fmt.Errorf("waiting for reply: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.ReplaceAll(string(reply), "\r", "\n"))
	return nil
}

// toSegments turns a text file with one segment per line into the carriage
// return separated form HL7 peers expect
func toSegments(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.TrimRight(s, "\n")
	return []byte(strings.ReplaceAll(s, "\n", "\r"))
}
