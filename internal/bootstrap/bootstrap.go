/**
 * @description
 * Connection wiring shared by the server and the operator CLI: the Postgres pool, the
 * optional Redis client, and the repository / session store selected by configuration.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and pool.
 * - github.com/redis/go-redis/v9: Redis client.
 * - go.mongodb.org/mongo-driver: MongoDB client for the mongo session backend.
 */

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/transfa/ussd-service/internal/config"
	"github.com/transfa/ussd-service/internal/store"
)

// Backends holds the opened stores and the resources behind them.
type Backends struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Mongo        *mongo.Client
	Repository   store.Repository
	SessionStore store.SessionStore
}

// Close releases every opened connection.
func (b *Backends) Close() {
	if b.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Mongo.Disconnect(ctx); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"mongo disconnect failed\" err=%v", err)
		}
	}
	if b.Redis != nil {
		b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// LimitPolicy converts the configured tier limits into the store's policy.
func LimitPolicy(cfg config.Config) store.LimitPolicy {
	tiers := make(map[int]store.TierLimit, len(cfg.TierLimits))
	for tier, limit := range cfg.TierLimits {
		tiers[tier] = store.TierLimit{Daily: limit.Daily, Monthly: limit.Monthly}
	}
	return store.LimitPolicy{Tiers: tiers, Location: cfg.Location()}
}

// OpenPostgres establishes the connection pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis parses the URL and pings the server.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("redis url is empty")
	}
	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Open builds the repository and session store named by the configuration. A Redis
// client is opened whenever REDIS_URL is set, since the rate limiter also uses it.
func Open(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{}
	needPostgres := cfg.StoreBackend == config.StoreBackendPostgres || cfg.SessionBackend == config.SessionBackendPostgres

	if needPostgres {
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.Pool = pool
		log.Println("level=info component=bootstrap msg=\"database connected\"")
	}

	if cfg.RedisURL != "" {
		client, err := OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			if cfg.SessionBackend == config.SessionBackendRedis {
				b.Close()
				return nil, err
			}
			log.Printf("level=warn component=bootstrap msg=\"redis unavailable; rate limiting disabled\" err=%v", err)
		} else {
			b.Redis = client
			log.Println("level=info component=bootstrap msg=\"redis connected\"")
		}
	} else if cfg.SessionBackend == config.SessionBackendRedis {
		b.Close()
		return nil, errors.New("SESSION_BACKEND=redis requires REDIS_URL")
	}

	limits := LimitPolicy(cfg)
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		log.Println("level=warn component=bootstrap msg=\"using in-memory ledger; balances are lost on restart\"")
		b.Repository = store.NewMemoryRepository(limits)
	default:
		b.Repository = store.NewPostgresRepository(b.Pool, limits)
	}

	timeout := cfg.SessionTimeout()
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		b.SessionStore = store.NewRedisSessionStore(b.Redis, cfg.RedisKeyPrefix, timeout)
	case config.SessionBackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		b.Mongo = client
		mongoStore := store.NewMongoSessionStore(client.Database(cfg.MongoDatabase), timeout)
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		b.SessionStore = mongoStore
		log.Println("level=info component=bootstrap msg=\"mongo connected\"")
	case config.SessionBackendMemory:
		b.SessionStore = store.NewMemorySessionStore(timeout)
	default:
		b.SessionStore = store.NewPostgresSessionStore(b.Pool, timeout)
	}

	log.Printf("level=info component=bootstrap msg=\"stores ready\" store_backend=%s session_backend=%s", cfg.StoreBackend, cfg.SessionBackend)
	return b, nil
}
