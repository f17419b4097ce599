package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	"github.com/issac1998/go-metaq/client"
	"github.com/issac1998/go-metaq/internal/config"
)

var (
	configFile string
	backend    string
	endpoints  []string
	namespace  string

	clientConfig *config.ClientConfig
)

var rootCmd = &cobra.Command{
	Use:   "metaq",
	Short: "MetaQ client tool",
	Long: `metaq publishes to and consumes from a MetaQ cluster whose brokers
and consumer groups are coordinated through ZooKeeper or etcd.

Settings come from a JSON config file; flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configFile != "" {
			clientConfig, err = config.LoadClientConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		} else {
			clientConfig = config.DefaultClientConfig()
		}

		if backend != "" {
			b, err := config.ParseBackend(backend)
			if err != nil {
				return err
			}
			clientConfig.Coordinator.Backend = b
		}
		if len(endpoints) > 0 {
			clientConfig.Coordinator.Endpoints = endpoints
		}
		if namespace != "" {
			clientConfig.Coordinator.Namespace = namespace
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Publish a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		message, _ := cmd.Flags().GetString("message")
		async, _ := cmd.Flags().GetBool("async")

		c, err := client.NewClient(clientConfig)
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := c.NewProducer()
		if err != nil {
			return err
		}
		defer p.Close()

		log.Printf("Sending message to topic: %s, async: %v", topic, async)
		result, err := p.Put(topic, []byte(message), async)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		fmt.Printf("Message sent! Topic: %s, Partition: %s, Broker: %s, ID: %d, Offset: %d\n",
			result.Topic, result.PartitionID, result.Broker, result.ID, result.Offset)
		return nil
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume messages as a member of a consumer group",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		group, _ := cmd.Flags().GetString("group")
		count, _ := cmd.Flags().GetInt("count")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		clientConfig.Consumer.Group = group
		c, err := client.NewClient(clientConfig)
		if err != nil {
			return err
		}
		defer c.Close()

		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr, c.Metrics())
			defer srv.Shutdown(context.Background())
		}

		consumer, err := c.NewConsumer()
		if err != nil {
			return err
		}
		defer consumer.Close()

		if err := consumer.Subscribe(topic, group); err != nil {
			return fmt.Errorf("failed to join group %s: %w", group, err)
		}
		log.Printf("Joined group %s as %s, partitions: %v", group, consumer.ID(), consumer.Partitions())

		received := 0
		for ctx.Err() == nil && (count <= 0 || received < count) {
			msgs, err := consumer.Poll()
			if err != nil {
				log.Printf("Poll failed: %v", err)
				if consumer.State() == client.StateFailed {
					return err
				}
				continue
			}
			for _, msg := range msgs {
				received++
				fmt.Printf("[%s] id=%d offset=%d %s\n", msg.PartitionID, msg.ID, msg.Offset, string(msg.Payload))
			}
		}
		log.Printf("Consumed %d messages", received)
		return nil
	},
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Print every topic with its partitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(func(admin *client.Admin) error {
			topo, err := admin.Topology()
			if err != nil {
				return err
			}
			if len(topo.Topics()) == 0 {
				fmt.Println("No topics found")
				return nil
			}
			for _, topic := range topo.Topics() {
				fmt.Printf("%s:\n", topic)
				for _, p := range topo[topic] {
					fmt.Printf("  %-8s %-6s %s\n", p.ID(), p.Role, p.Addr())
				}
			}
			return nil
		})
	},
}

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List a consumer group's members and, with --topic, its partitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		topic, _ := cmd.Flags().GetString("topic")

		return withAdmin(func(admin *client.Admin) error {
			members, err := admin.GroupMembers(group)
			if err != nil {
				return err
			}
			fmt.Printf("Group %s has %d members\n", group, len(members))
			for _, m := range members {
				fmt.Printf("  %s\n", m)
			}

			if topic == "" {
				return nil
			}
			status, err := admin.GroupStatus(group, topic)
			if err != nil {
				return err
			}
			fmt.Println(strings.Repeat("-", 60))
			for _, s := range status {
				owner := s.Owner
				if owner == "" {
					owner = "(unowned)"
				}
				fmt.Printf("  %-8s %-40s %s\n", s.Partition.ID(), owner, s.Committed)
			}
			return nil
		})
	},
}

func withAdmin(fn func(*client.Admin) error) error {
	c, err := client.NewClient(clientConfig)
	if err != nil {
		return err
	}
	defer c.Close()

	admin, err := c.NewAdmin()
	if err != nil {
		return err
	}
	defer admin.Close()
	return fn(admin)
}

func serveMetrics(addr string, m *client.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s/metrics", addr)
	return srv
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "coordination backend: zookeeper or etcd (overrides config)")
	rootCmd.PersistentFlags().StringSliceVar(&endpoints, "endpoints", nil, "coordination endpoints (overrides config)")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "coordination namespace (overrides config)")

	putCmd.Flags().String("topic", "", "topic to publish to")
	putCmd.Flags().String("message", "", "message body")
	putCmd.Flags().Bool("async", false, "do not wait for the broker's acknowledgment")
	putCmd.MarkFlagRequired("topic")
	putCmd.MarkFlagRequired("message")

	consumeCmd.Flags().String("topic", "", "topic to consume")
	consumeCmd.Flags().String("group", "", "consumer group")
	consumeCmd.Flags().Int("count", 0, "stop after this many messages, 0 for no limit")
	consumeCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	consumeCmd.MarkFlagRequired("topic")
	consumeCmd.MarkFlagRequired("group")

	membersCmd.Flags().String("group", "", "consumer group")
	membersCmd.Flags().String("topic", "", "also show partition owners and offsets for this topic")
	membersCmd.MarkFlagRequired("group")

	rootCmd.AddCommand(putCmd, consumeCmd, topicsCmd, membersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
