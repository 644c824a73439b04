package main

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/growth-orchestrator/agent/accountctx"
	"github.com/tanpawarit/growth-orchestrator/agent/agents/digest"
	"github.com/tanpawarit/growth-orchestrator/agent/agents/playbook"
	"github.com/tanpawarit/growth-orchestrator/agent/agents/query"
	"github.com/tanpawarit/growth-orchestrator/agent/agents/review"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/delivery"
	"github.com/tanpawarit/growth-orchestrator/agent/enrollment"
	"github.com/tanpawarit/growth-orchestrator/agent/llm"
	"github.com/tanpawarit/growth-orchestrator/agent/memory"
	"github.com/tanpawarit/growth-orchestrator/agent/prompt"
	"github.com/tanpawarit/growth-orchestrator/agent/similarity"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	configx "github.com/tanpawarit/growth-orchestrator/pkg/config"
	databasex "github.com/tanpawarit/growth-orchestrator/pkg/database"
	kafkax "github.com/tanpawarit/growth-orchestrator/pkg/kafka"
	openrouterx "github.com/tanpawarit/growth-orchestrator/pkg/openrouter"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
	slackx "github.com/tanpawarit/growth-orchestrator/pkg/slack"
	webhookx "github.com/tanpawarit/growth-orchestrator/pkg/webhook"
)

type AppConfig struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// app holds the wired services shared by every command.
type app struct {
	store     *storex.Store
	queue     *delivery.Queue
	publisher *kafkax.Publisher

	playbook   *playbook.Generator
	reviewer   *review.Reviewer
	digest     *digest.Composer
	query      *query.Streamer
	index      *similarity.Index
	enrollment *enrollment.Service
}

// openStore opens the database without the reasoning stack, for commands
// that only touch storage.
func openStore(ctx context.Context) (*storex.Store, error) {
	dbCfg, err := configx.New[databasex.Config]("DATABASE")
	if err != nil {
		return nil, err
	}
	db, err := databasex.Open(ctx, *dbCfg)
	if err != nil {
		return nil, err
	}
	return storex.New(db), nil
}

func newApp(ctx context.Context) (*app, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{store: st}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	llmCfg, err := configx.New[llm.Config]("OPENROUTER")
	if err != nil {
		return err
	}
	if err := llmCfg.Validate(); err != nil {
		return err
	}
	retryCfg, err := configx.New[retry.Config]("RETRY")
	if err != nil {
		return err
	}
	policy := retryCfg.Policy()

	prompts := prompt.LoadPromptSet()
	promptFor := func(rt contractx.RunType) string {
		text, err := prompts.For(rt)
		if err != nil {
			log.Warn().Err(err).Msg("prompt missing")
		}
		return text
	}

	chatModel := func(rt contractx.RunType) (*modelHandle, error) {
		orCfg := llmCfg.OpenRouterFor(rt)
		m, err := orCfg.New(ctx)
		if err != nil {
			return nil, err
		}
		return &modelHandle{model: m, name: orCfg.Model}, nil
	}

	if err := a.wireDelivery(); err != nil {
		return err
	}

	assembler := accountctx.NewAssembler(a.store)
	mem := memory.New(a.store)
	sender, err := newSender()
	if err != nil {
		return err
	}

	playbookModel, err := chatModel(contractx.RunTypePlaybook)
	if err != nil {
		return err
	}
	playbookCfg, err := configx.New[playbook.Config]("PLAYBOOK")
	if err != nil {
		return err
	}
	a.playbook, err = playbook.New(ctx, playbook.Deps{
		Model:     playbookModel.model,
		Assembler: assembler,
		Repo:      a.store,
		Memory:    mem,
		Prompt:    promptFor(contractx.RunTypePlaybook),
		Retry:     policy,
	}, *playbookCfg)
	if err != nil {
		return err
	}

	reviewModel, err := chatModel(contractx.RunTypeWeeklyReview)
	if err != nil {
		return err
	}
	reviewCfg, err := configx.New[review.Config]("REVIEW")
	if err != nil {
		return err
	}
	a.reviewer, err = review.New(ctx, review.Deps{
		Model:     reviewModel.model,
		Assembler: assembler,
		Repo:      a.store,
		Memory:    mem,
		Notifier:  a.queue,
		Sender:    sender,
		Prompt:    promptFor(contractx.RunTypeWeeklyReview),
		Retry:     policy,
	}, *reviewCfg)
	if err != nil {
		return err
	}

	digestModel, err := chatModel(contractx.RunTypeDailyDigest)
	if err != nil {
		return err
	}
	digestCfg, err := configx.New[digest.Config]("DIGEST")
	if err != nil {
		return err
	}
	a.digest, err = digest.New(ctx, digest.Deps{
		Model:     digestModel.model,
		Assembler: assembler,
		Repo:      a.store,
		Memory:    mem,
		Sender:    sender,
		Prompt:    promptFor(contractx.RunTypeDailyDigest),
		Retry:     policy,
	}, *digestCfg)
	if err != nil {
		return err
	}

	queryModel, err := chatModel(contractx.RunTypeQuery)
	if err != nil {
		return err
	}
	queryCfg, err := configx.New[query.Config]("QUERY")
	if err != nil {
		return err
	}
	a.query, err = query.New(query.Deps{
		Model:     queryModel.model,
		Assembler: assembler,
		Repo:      a.store,
		Memory:    mem,
		Prompt:    promptFor(contractx.RunTypeQuery),
		Retry:     policy,
	}, *queryCfg)
	if err != nil {
		return err
	}

	client := openrouterx.NewClient(llmCfg.OpenRouterFor(contractx.RunTypeQuery))
	embedder, err := llm.NewEmbedder(client, llmCfg.EmbeddingModel, llmCfg.EmbeddingDimensions, policy)
	if err != nil {
		return err
	}
	simCfg, err := configx.New[similarity.Config]("SIMILARITY")
	if err != nil {
		return err
	}
	a.index = similarity.NewIndex(a.store, embedder, llmCfg.EmbeddingModel, *simCfg)

	log.Info().
		Str("playbook_model", playbookModel.name).
		Str("review_model", reviewModel.name).
		Str("digest_model", digestModel.name).
		Str("query_model", queryModel.name).
		Str("embedding_model", llmCfg.EmbeddingModel).
		Msg("services wired")
	return nil
}

// wireDelivery builds the queue and the enrollment service that feeds it.
// The deliver, enroll and outcome commands need nothing else.
func (a *app) wireDelivery() error {
	if a.queue != nil {
		return nil
	}
	deliveryCfg, err := configx.New[delivery.Config]("DELIVERY")
	if err != nil {
		return err
	}
	webhookCfg, err := configx.New[webhookx.Config]("WEBHOOK")
	if err != nil {
		return err
	}
	kafkaCfg, err := configx.New[kafkax.Config]("KAFKA")
	if err != nil {
		return err
	}

	var opts []delivery.Option
	if kafkaCfg.Enabled() {
		pub, err := kafkax.NewPublisher(*kafkaCfg)
		if err != nil {
			return err
		}
		a.publisher = pub
		opts = append(opts, delivery.WithPublisher(pub))
	}
	a.queue = delivery.NewQueue(a.store, webhookx.NewClient(*webhookCfg), *deliveryCfg, opts...)
	a.enrollment = enrollment.NewService(a.store, a.queue)
	return nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("close kafka publisher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
}

type modelHandle struct {
	model einomodel.BaseChatModel
	name  string
}

func newSender() (contractx.Sender, error) {
	slackCfg, err := configx.New[slackx.Config]("SLACK")
	if err != nil {
		return nil, err
	}
	if !slackCfg.Enabled() {
		log.Warn().Msg("SLACK_BOT_TOKEN not set; outbound messages are logged only")
		return logSender{}, nil
	}
	return slackx.NewSender(*slackCfg)
}

// logSender stands in for Slack in local runs.
type logSender struct{}

func (logSender) Send(_ context.Context, msg contractx.OutboundMessage) error {
	if msg.To == "" {
		return fmt.Errorf("%w: recipient is required", contractx.ErrValidation)
	}
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("body", msg.Body).Msg("outbound message")
	return nil
}
