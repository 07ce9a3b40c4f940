package database

import (
	"testing"

	"github.com/itstheanurag/codearena/internal/config"
	"github.com/itstheanurag/codearena/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ worker.Recorder = (*Database)(nil)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(config.DbConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "arena",
		Password: "p@ss word",
		Name:     "codearena",
		SSLMode:  "disable",
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("dsn must parse: %v", err)
	}
	cc := cfg.ConnConfig
	if cc.User != "arena" || cc.Password != "p@ss word" || cc.Host != "localhost" || cc.Port != 5432 || cc.Database != "codearena" {
		t.Fatalf("unexpected parsed config %+v", cfg.ConnConfig)
	}
}

func TestBuildDSNIPv6(t *testing.T) {
	dsn := buildDSN(config.DbConfig{Host: "::1", Port: 5433, User: "u", Name: "d", SSLMode: "require"})
	want := "postgres://u:@[::1]:5433/d?sslmode=require"
	if dsn != want {
		t.Fatalf("expected %q, got %q", want, dsn)
	}
}
