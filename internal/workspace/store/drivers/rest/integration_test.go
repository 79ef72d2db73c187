//go:build integration

package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/baas/baastest"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

/*
 * Runs the rest driver against a real Postgres + PostgREST pair. Auth is
 * served by the in-memory fake, which signs tokens with the same secret
 * PostgREST verifies, so row-level security sees the real subject claim.
 */

const (
	pgPassword    = "postgres"
	postgrestPort = "3000/tcp"
)

const schemaSQL = `
create role anon nologin;
create role authenticated nologin;

create schema auth;
create function auth.uid() returns uuid language sql stable as $$
  select nullif(current_setting('request.jwt.claims', true)::json->>'sub', '')::uuid
$$;
grant usage on schema auth to anon, authenticated;

create table tenants (
  id uuid primary key default gen_random_uuid(),
  user_id uuid not null unique,
  name text not null,
  settings jsonb not null default '{}',
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table user_profiles (
  id uuid primary key,
  email text not null,
  full_name text not null default '',
  role text not null default 'user' check (role in ('user', 'admin')),
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table tasks (
  id uuid primary key default gen_random_uuid(),
  tenant_id uuid not null references tenants(id) on delete cascade,
  title text not null,
  description text,
  status text not null default 'pending' check (status in ('pending', 'in_progress', 'completed')),
  priority text not null default 'medium' check (priority in ('low', 'medium', 'high')),
  due_date timestamptz,
  assignee text,
  estimated_hours double precision,
  actual_hours double precision,
  created_at timestamptz not null default clock_timestamp(),
  updated_at timestamptz not null default clock_timestamp(),
  completed_at timestamptz
);

create table notes (
  id uuid primary key default gen_random_uuid(),
  tenant_id uuid not null references tenants(id) on delete cascade,
  title text not null,
  content text not null default '',
  created_at timestamptz not null default clock_timestamp(),
  updated_at timestamptz not null default clock_timestamp()
);

create table pomodoro_sessions (
  id uuid primary key default gen_random_uuid(),
  tenant_id uuid not null references tenants(id) on delete cascade,
  started_at timestamptz not null default now(),
  duration integer not null,
  completed boolean not null default false,
  completed_at timestamptz,
  created_at timestamptz not null default clock_timestamp()
);

create table chat_messages (
  id uuid primary key default gen_random_uuid(),
  tenant_id uuid not null references tenants(id) on delete cascade,
  role text not null check (role in ('user', 'assistant')),
  content text not null,
  created_at timestamptz not null default clock_timestamp()
);

alter table tenants enable row level security;
alter table user_profiles enable row level security;
alter table tasks enable row level security;
alter table notes enable row level security;
alter table pomodoro_sessions enable row level security;
alter table chat_messages enable row level security;

create policy own_tenant on tenants for all to authenticated
  using (user_id = auth.uid()) with check (user_id = auth.uid());
create policy profiles_rw on user_profiles for all to authenticated
  using (true) with check (true);
create policy own_tasks on tasks for all to authenticated
  using (tenant_id in (select id from tenants where user_id = auth.uid()))
  with check (tenant_id in (select id from tenants where user_id = auth.uid()));
create policy own_notes on notes for all to authenticated
  using (tenant_id in (select id from tenants where user_id = auth.uid()))
  with check (tenant_id in (select id from tenants where user_id = auth.uid()));
create policy own_pomodoro on pomodoro_sessions for all to authenticated
  using (tenant_id in (select id from tenants where user_id = auth.uid()))
  with check (tenant_id in (select id from tenants where user_id = auth.uid()));
create policy own_chat on chat_messages for all to authenticated
  using (tenant_id in (select id from tenants where user_id = auth.uid()))
  with check (tenant_id in (select id from tenants where user_id = auth.uid()));

grant usage on schema public to anon, authenticated;
grant all on all tables in schema public to authenticated;
`

type backend struct {
	auth    *baastest.Server
	gateway *httptest.Server
	pg      *pgx.Conn
}

func setupBackend(t *testing.T) *backend {
	t.Helper()
	ctx := context.Background()

	net, err := network.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = net.Remove(context.Background()) })

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "postgres:16-alpine",
			ExposedPorts:   []string{"5432/tcp"},
			Env:            map[string]string{"POSTGRES_PASSWORD": pgPassword},
			Networks:       []string{net.Name},
			NetworkAliases: map[string][]string{net.Name: {"db"}},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, fmt.Sprintf("postgres://postgres:%s@%s:%s/postgres?sslmode=disable", pgPassword, host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })

	_, err = conn.Exec(ctx, schemaSQL)
	require.NoError(t, err)

	restC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgrest/postgrest:v12.2.3",
			ExposedPorts: []string{postgrestPort},
			Networks:     []string{net.Name},
			Env: map[string]string{
				"PGRST_DB_URI":       fmt.Sprintf("postgres://postgres:%s@db:5432/postgres", pgPassword),
				"PGRST_DB_SCHEMAS":   "public",
				"PGRST_DB_ANON_ROLE": "anon",
				"PGRST_JWT_SECRET":   baastest.DefaultJWTSecret,
			},
			WaitingFor: wait.ForHTTP("/").
				WithPort(postgrestPort).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = restC.Terminate(context.Background()) })

	restHost, err := restC.Host(ctx)
	require.NoError(t, err)
	restPort, err := restC.MappedPort(ctx, "3000")
	require.NoError(t, err)

	auth := baastest.NewServer(t)
	authURL, err := url.Parse(auth.URL)
	require.NoError(t, err)
	restURL, err := url.Parse(fmt.Sprintf("http://%s:%s", restHost, restPort.Port()))
	require.NoError(t, err)

	toAuth := httputil.NewSingleHostReverseProxy(authURL)
	toRest := httputil.NewSingleHostReverseProxy(restURL)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/rest/v1"); ok {
			r.URL.Path = rest
			r.URL.RawPath = ""
			toRest.ServeHTTP(w, r)
			return
		}
		toAuth.ServeHTTP(w, r)
	}))
	t.Cleanup(gateway.Close)

	return &backend{auth: auth, gateway: gateway, pg: conn}
}

func (b *backend) signIn(t *testing.T, email string) (*Store, string) {
	t.Helper()

	userID := b.auth.CreateUser(email, "hunter22", nil)
	client := baas.NewClient(b.gateway.URL, b.auth.APIKey, baas.WithLogger(slogx.Discard()))
	_, err := client.Auth.SignInWithPassword(context.Background(), email, "hunter22")
	require.NoError(t, err)
	return NewStore(client), userID
}

func TestIntegrationTenantIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	b := setupBackend(t)

	alice, aliceID := b.signIn(t, "alice@example.com")
	_, bobID := b.signIn(t, "bob@example.com")

	tenantA, err := alice.Tenants().Create(ctx, domain.Tenant{UserID: aliceID, Name: domain.WorkspaceName("alice@example.com")})
	require.NoError(t, err)

	_, err = alice.Tenants().Create(ctx, domain.Tenant{UserID: aliceID, Name: "dupe"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// Bob's tenant and task are seeded directly, bypassing row-level security.
	var tenantB string
	require.NoError(t, b.pg.QueryRow(ctx,
		`insert into tenants (user_id, name) values ($1, $2) returning id`, bobID, "bob's Workspace").Scan(&tenantB))
	var bobTask string
	require.NoError(t, b.pg.QueryRow(ctx,
		`insert into tasks (tenant_id, title) values ($1, 'bob only') returning id`, tenantB).Scan(&bobTask))

	created, err := alice.Tasks().Create(ctx, tenantA.ID, domain.TaskInput{Title: "Buy milk"}.Draft(tenantA.ID, time.Now()))
	require.NoError(t, err)
	require.Equal(t, domain.TaskPending, created.Status)
	require.Nil(t, created.CompletedAt)

	t.Run("own rows only", func(t *testing.T) {
		tasks, err := alice.Tasks().List(ctx, tenantA.ID, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		foreign, err := alice.Tasks().List(ctx, domain.TenantID(tenantB), store.ListOptions{})
		require.NoError(t, err)
		require.Empty(t, foreign)
	})

	t.Run("foreign mutations do nothing", func(t *testing.T) {
		_, err := alice.Tasks().Update(ctx, domain.TenantID(tenantB), bobTask, map[string]any{"title": "pwned"})
		require.ErrorIs(t, err, store.ErrNotFound)
		require.NoError(t, alice.Tasks().Delete(ctx, domain.TenantID(tenantB), bobTask))

		var title string
		require.NoError(t, b.pg.QueryRow(ctx, `select title from tasks where id = $1`, bobTask).Scan(&title))
		require.Equal(t, "bob only", title)
	})

	t.Run("completion round trip", func(t *testing.T) {
		done := domain.TaskCompleted
		got, err := alice.Tasks().Update(ctx, tenantA.ID, created.ID, domain.TaskPatch{Status: &done}.Columns(time.Now()))
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)

		pending := domain.TaskPending
		got, err = alice.Tasks().Update(ctx, tenantA.ID, created.ID, domain.TaskPatch{Status: &pending}.Columns(time.Now()))
		require.NoError(t, err)
		require.Nil(t, got.CompletedAt)
	})
}
