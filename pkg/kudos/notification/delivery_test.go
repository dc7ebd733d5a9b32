package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestBackoffAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 16 * time.Minute},
		{10, time.Hour},
		{100, time.Hour},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, backoffAfter(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func TestBackoffAfter_NeverExceedsCap(t *testing.T) {
	t.Parallel()

	for attempts := 1; attempts <= maxAttempts; attempts++ {
		require.LessOrEqual(t, backoffAfter(attempts), backoffCap)
	}
}

func TestExecuteTemplate(t *testing.T) {
	t.Parallel()

	out, err := execute("Hello {{.name}}, you reached level {{.level}}",
		map[string]any{"name": "Olena", "level": 3})
	require.NoError(t, err)
	require.Equal(t, "Hello Olena, you reached level 3", out)
}

func TestExecuteTemplate_MissingKeyIsZero(t *testing.T) {
	t.Parallel()

	out, err := execute("Hi {{.name}}", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "Hi <no value>", out)
}

func TestExecuteTemplate_ParseError(t *testing.T) {
	t.Parallel()

	_, err := execute("{{.unclosed", nil)
	require.Error(t, err)
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// dispatchDB answers loadNotification with a canned row, reports no
// templates, and records every outcome UPDATE it receives.
type dispatchDB struct {
	events *[]string
	execs  []string
}

func (f *dispatchDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	*f.events = append(*f.events, "record")
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *dispatchDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected Query")
}

func (f *dispatchDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, "notification_templates") {
		return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
	}
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = "n-1"
		*dest[1].(*string) = "user-1"
		*dest[2].(**string) = nil
		*dest[3].(*string) = TypeLevelUp
		*dest[5].(*bool) = false
		*dest[6].(*time.Time) = time.Now().UTC()
		return nil
	}}
}

type scriptedSender struct {
	channel string
	fail    map[string]error
	events  *[]string
}

func (s scriptedSender) Channel() string { return s.channel }

func (s scriptedSender) Send(_ context.Context, n Notification, _ *Rendered) (string, error) {
	*s.events = append(*s.events, "send:"+n.ID)
	if err := s.fail[n.ID]; err != nil {
		return "", err
	}
	return "receipt:" + n.ID, nil
}

func newTestDispatcher(events *[]string, db *dispatchDB, due []Delivery, senders ...Sender) *Dispatcher {
	byChannel := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	d := &Dispatcher{
		senders: byChannel,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		db:      db,
	}
	d.claim = func(context.Context, time.Time, int) ([]Delivery, error) {
		*events = append(*events, "claim")
		return due, nil
	}
	return d
}

func TestDispatchDue_ClaimCommitsBeforeAnySend(t *testing.T) {
	t.Parallel()

	var events []string
	db := &dispatchDB{events: &events}
	due := []Delivery{
		{ID: "d-1", NotificationID: "n-1", ChannelCode: "EMAIL", Attempts: 1},
		{ID: "d-2", NotificationID: "n-1", ChannelCode: "IN_APP", Attempts: 1},
	}
	sender := scriptedSender{channel: "EMAIL", events: &events}
	d := newTestDispatcher(&events, db, due, sender)

	processed, err := d.DispatchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, processed)

	// The claim transaction finishes before the first provider call, and
	// every send is followed by its own outcome write.
	require.Equal(t, "claim", events[0])
	require.Equal(t, []string{"claim", "send:n-1", "record", "record"}, events)
	require.Contains(t, db.execs[0], "status = 'sent'")
	require.Contains(t, db.execs[1], "status = 'sent'")
}

func TestDispatchDue_SenderFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	var events []string
	db := &dispatchDB{events: &events}
	due := []Delivery{
		{ID: "d-1", NotificationID: "n-1", ChannelCode: "EMAIL", Attempts: 1},
		{ID: "d-2", NotificationID: "n-1", ChannelCode: "EMAIL", Attempts: 1},
	}
	// Both deliveries load the same notification; fail only the first send.
	calls := 0
	sender := senderFunc(func(_ context.Context, n Notification, _ *Rendered) (string, error) {
		events = append(events, "send:"+n.ID)
		calls++
		if calls == 1 {
			return "", errors.New("provider down")
		}
		return "receipt:" + n.ID, nil
	})
	d := newTestDispatcher(&events, db, due, sender)

	processed, err := d.DispatchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, processed)
	require.Len(t, db.execs, 2)
	require.Contains(t, db.execs[0], "last_error")
	require.NotContains(t, db.execs[0], "status = 'failed'")
	require.Contains(t, db.execs[1], "status = 'sent'")
}

func TestDispatchDue_ExhaustedAttemptsPark(t *testing.T) {
	t.Parallel()

	var events []string
	db := &dispatchDB{events: &events}
	due := []Delivery{
		{ID: "d-1", NotificationID: "n-1", ChannelCode: "EMAIL", Attempts: maxAttempts},
	}
	sender := scriptedSender{
		channel: "EMAIL",
		fail:    map[string]error{"n-1": errors.New("provider down")},
		events:  &events,
	}
	d := newTestDispatcher(&events, db, due, sender)

	processed, err := d.DispatchDue(context.Background(), time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0], "status = 'failed'")
}

type senderFunc func(ctx context.Context, n Notification, content *Rendered) (string, error)

func (f senderFunc) Channel() string { return "EMAIL" }

func (f senderFunc) Send(ctx context.Context, n Notification, content *Rendered) (string, error) {
	return f(ctx, n, content)
}
