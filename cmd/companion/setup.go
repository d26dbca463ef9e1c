package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/viper"

	"github.com/becomeliminal/companion-core/engine"
	"github.com/becomeliminal/companion-core/memory"
	mockembed "github.com/becomeliminal/companion-core/memory/embedder/mock"
	chromemindex "github.com/becomeliminal/companion-core/memory/index/chromem"
	pgvectorindex "github.com/becomeliminal/companion-core/memory/index/pgvector"
	memmem "github.com/becomeliminal/companion-core/memory/store/mem"
	memsqlite "github.com/becomeliminal/companion-core/memory/store/sqlite"
	"github.com/becomeliminal/companion-core/prompt"
	anthropicsum "github.com/becomeliminal/companion-core/prompt/summarizer/anthropic"
	openaisum "github.com/becomeliminal/companion-core/prompt/summarizer/openai"
	"github.com/becomeliminal/companion-core/retrieval"
	"github.com/becomeliminal/companion-core/situation"
	sitmem "github.com/becomeliminal/companion-core/situation/store/mem"
	sitsqlite "github.com/becomeliminal/companion-core/situation/store/sqlite"
)

// buildEngine assembles the full stack from viper configuration. The
// returned engine owns the stores; callers must Close it.
func buildEngine() (*engine.Engine, error) {
	logger := slog.Default()

	memStore, sitStore, probers, err := buildStores(logger)
	if err != nil {
		return nil, err
	}

	memOpts := []memory.Option{memory.WithLogger(logger)}
	if idx, emb, err := buildIndex(); err != nil {
		return nil, err
	} else if idx != nil {
		memOpts = append(memOpts, memory.WithIndex(idx), memory.WithEmbedder(emb))
	}
	memories := memory.NewService(memStore, memOpts...)

	situations := situation.NewRegistry(sitStore, situation.WithLogger(logger))
	retriever := retrieval.New(memories, retrieval.WithLogger(logger))

	builderOpts := []prompt.Option{
		prompt.WithSituations(situations),
		prompt.WithRetriever(retriever),
		prompt.WithLogger(logger),
	}
	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithProbers(probers...),
	}

	if summarizer, history := buildSummarizers(memories); summarizer != nil {
		cache, err := prompt.NewProfileCache(summarizer, 0)
		if err != nil {
			return nil, fmt.Errorf("profile cache: %w", err)
		}
		builderOpts = append(builderOpts, prompt.WithProfileCache(cache))
		engineOpts = append(engineOpts, engine.WithHistorySummarizer(history))
	}

	builder := prompt.NewBuilder(builderOpts...)
	return engine.New(memories, situations, retriever, builder, engineOpts...), nil
}

// buildStores creates the primary stores with in-process fallbacks.
// The memory driver applies to the context store as well; a sqlite
// primary gets a failover wrapper so store outages degrade instead of
// failing requests.
func buildStores(logger *slog.Logger) (memory.Store, situation.Store, []engine.Prober, error) {
	switch driver := viper.GetString("storage.driver"); driver {
	case "memory":
		return memmem.New(), sitmem.New(), nil, nil
	case "sqlite":
		path := viper.GetString("storage.path")
		ms, err := memsqlite.New(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open memory store: %w", err)
		}
		ss, err := sitsqlite.New(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open context store: %w", err)
		}
		mf := memory.NewFailover(ms, memmem.New(), logger)
		sf := situation.NewFailover(ss, sitmem.New(), logger)
		return mf, sf, []engine.Prober{mf, sf}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func buildIndex() (memory.Index, memory.Embedder, error) {
	emb := mockembed.New(viper.GetInt("embedder.dimensions"))
	switch driver := viper.GetString("index.driver"); driver {
	case "none", "":
		return nil, nil, nil
	case "chromem":
		var idx memory.Index
		var err error
		if path := viper.GetString("index.path"); path != "" {
			idx, err = chromemindex.NewPersistent(path)
		} else {
			idx, err = chromemindex.New()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("open chromem index: %w", err)
		}
		return idx, emb, nil
	case "pgvector":
		idx, err := pgvectorindex.New(viper.GetString("index.dsn"), emb.Dimensions())
		if err != nil {
			return nil, nil, fmt.Errorf("open pgvector index: %w", err)
		}
		return idx, emb, nil
	default:
		return nil, nil, fmt.Errorf("unknown index driver %q", driver)
	}
}

// buildSummarizers returns nil summarizers when no provider is
// configured; prompt assembly then omits the profile section and
// history falls back to the heuristic.
func buildSummarizers(memories *memory.Service) (prompt.ProfileSummarizer, prompt.HistorySummarizer) {
	switch provider := viper.GetString("summarizer.provider"); provider {
	case "anthropic":
		client := anthropic.NewClient()
		s := anthropicsum.New(&client, memories, anthropicsum.DefaultConfig())
		return s, s
	case "openai":
		key := viper.GetString("summarizer.api_key")
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		s := openaisum.New(openai.NewClient(key), memories, openaisum.DefaultConfig())
		return s, s
	default:
		return nil, nil
	}
}
