// Command agent runs a simulated customer against a live API server's chat
// endpoint and prints the conversation transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/dtnewman/appt-booking/internal/agent"
	appconfig "github.com/dtnewman/appt-booking/internal/config"
	"github.com/dtnewman/appt-booking/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	var (
		baseURL  = flag.String("url", "http://localhost:8080", "base URL of the API server")
		maxTurns = flag.Int("max-turns", 12, "turn ceiling for the conversation")
	)
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if cfg.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	customer := agent.NewCustomer(
		openai.NewClient(cfg.OpenAIAPIKey),
		cfg.OpenAIModel,
		cfg.OpenAITimeout,
		cfg.LLMSchemaAttempts,
	)
	runner := agent.NewRunner(customer, agent.NewHTTPChat(*baseURL, nil), logger, *maxTurns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// A first interrupt asks the runner to finish the current exchange; a
	// second one cancels outright.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		runner.Stop()
		<-sig
		cancel()
	}()

	result, err := runner.Run(ctx)
	if err != nil {
		logger.Error("agent run failed", "error", err)
		os.Exit(1)
	}

	for _, ex := range result.Exchanges {
		fmt.Printf("customer:  %s\n", ex.Customer.Message)
		if ex.Assistant != nil {
			fmt.Printf("assistant: %s\n", ex.Assistant.Message)
		}
	}
	fmt.Printf("\ncompleted=%v turns=%d conversation=%s\n",
		result.Completed, len(result.Exchanges), result.ConversationID)
	if result.Booking != nil {
		fmt.Printf("booking details: %s <%s> %s\n",
			result.Booking.Name, result.Booking.Email, result.Booking.SlotStart)
	}
}
