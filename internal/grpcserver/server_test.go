package grpcserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"jobmate/scrape-service/internal/auth"
	"jobmate/scrape-service/internal/enrich"
	"jobmate/scrape-service/internal/grpcserver"
	"jobmate/scrape-service/internal/scrapejob"
	"jobmate/scrape-service/internal/store"
)

// blockingScraper starts instantly and never finishes on its own.
type blockingScraper struct{}

func (blockingScraper) Start(context.Context, scrapejob.SearchParams) (string, error) {
	return "run-1", nil
}

func (blockingScraper) Wait(ctx context.Context, _ string) (scrapejob.ScrapeResult, error) {
	<-ctx.Done()
	return scrapejob.ScrapeResult{}, ctx.Err()
}

func (blockingScraper) Abort(context.Context, string) error { return nil }

func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()

	svc, err := scrapejob.NewService(store.NewMemory(), blockingScraper{}, enrich.New(nil))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(svc, auth.New("")))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func method(name string) string { return "/" + grpcserver.ServiceName + "/" + name }

func asUser(userID string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), auth.HeaderUserID, userID)
}

func start(t *testing.T, conn *grpc.ClientConn, ctx context.Context, body map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(body)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, method("StartScrapeJob"), in, out)
	return out, err
}

func TestStart_Unauthenticated(t *testing.T) {
	conn := dial(t)
	_, err := start(t, conn, context.Background(), map[string]any{"keyword": "go", "location": "Paris"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated (err=%v)", status.Code(err), err)
	}
}

func TestStart_InvalidArgument(t *testing.T) {
	conn := dial(t)
	_, err := start(t, conn, asUser("u1"), map[string]any{"location": "Paris"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument (err=%v)", status.Code(err), err)
	}
	if msg := status.Convert(err).Message(); msg != "keyword is required" {
		t.Errorf("message = %q, want %q", msg, "keyword is required")
	}
}

func TestStartGetAbort(t *testing.T) {
	conn := dial(t)
	ctx := asUser("u1")

	out, err := start(t, conn, ctx, map[string]any{"keyword": "go", "location": "Paris", "jobCount": 10})
	if err != nil {
		t.Fatalf("StartScrapeJob: %v", err)
	}
	id := out.GetFields()["requestId"].GetStringValue()
	if id == "" {
		t.Fatalf("StartScrapeJob returned no requestId: %v", out)
	}

	snap := new(structpb.Struct)
	if err := conn.Invoke(ctx, method("GetScrapeJob"), wrapperspb.String(id), snap); err != nil {
		t.Fatalf("GetScrapeJob: %v", err)
	}
	f := snap.GetFields()
	if got := f["requestId"].GetStringValue(); got != id {
		t.Errorf("requestId = %q, want %q", got, id)
	}
	st := scrapejob.Status(f["status"].GetStringValue())
	if st.IsTerminal() {
		t.Errorf("status = %q, want non-terminal", st)
	}
	if got := f["pollIntervalMs"].GetNumberValue(); got != 2000 {
		t.Errorf("pollIntervalMs = %v, want 2000", got)
	}
	if got := f["searchParams"].GetStructValue().GetFields()["jobCount"].GetNumberValue(); got != 10 {
		t.Errorf("searchParams.jobCount = %v, want 10", got)
	}

	err = conn.Invoke(asUser("u2"), method("GetScrapeJob"), wrapperspb.String(id), new(structpb.Struct))
	if status.Code(err) != codes.NotFound {
		t.Errorf("foreign GetScrapeJob code = %v, want NotFound", status.Code(err))
	}

	res := new(structpb.Struct)
	if err := conn.Invoke(ctx, method("AbortScrapeJob"), wrapperspb.String(id), res); err != nil {
		t.Fatalf("AbortScrapeJob: %v", err)
	}
	if !res.GetFields()["success"].GetBoolValue() {
		t.Errorf("AbortScrapeJob = %v, want success=true", res)
	}
}

func TestAbort_NotFound(t *testing.T) {
	conn := dial(t)
	err := conn.Invoke(asUser("u1"), method("AbortScrapeJob"), wrapperspb.String("missing"), new(structpb.Struct))
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v, want NotFound", status.Code(err))
	}
}
