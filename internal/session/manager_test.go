package session

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/config"
	"github.com/foxseedlab/rokuon/internal/conversation"
	"github.com/foxseedlab/rokuon/internal/discord"
	"github.com/foxseedlab/rokuon/internal/recording"
	"github.com/foxseedlab/rokuon/internal/repository"
	"github.com/foxseedlab/rokuon/internal/storage"
	"github.com/foxseedlab/rokuon/internal/transcriber"
	"github.com/foxseedlab/rokuon/internal/webhook"
)

const testBotUserID = "bot-self"

type mockSubscription struct {
	frames chan []byte
	closed atomic.Bool
}

func (s *mockSubscription) Frames() <-chan []byte { return s.frames }
func (s *mockSubscription) Close()                { s.closed.Store(true) }

type mockVoiceConnection struct {
	mu             sync.Mutex
	speechStart    func(string)
	stateChange    func(discord.ConnectionState)
	subs           map[string]*mockSubscription
	subscribeCount int
	played         [][]byte
	disconnects    int
}

func newMockVoiceConnection() *mockVoiceConnection {
	return &mockVoiceConnection{subs: make(map[string]*mockSubscription)}
}

func (c *mockVoiceConnection) OnSpeechStart(handler func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speechStart = handler
}

func (c *mockVoiceConnection) OnStateChange(handler func(discord.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateChange = handler
}

func (c *mockVoiceConnection) Subscribe(userID string) discord.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &mockSubscription{frames: make(chan []byte, 256)}
	c.subs[userID] = sub
	c.subscribeCount++
	return sub
}

func (c *mockVoiceConnection) Play(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.played = append(c.played, pcm)
	return nil
}

func (c *mockVoiceConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *mockVoiceConnection) speak(userID string) {
	c.mu.Lock()
	handler := c.speechStart
	c.mu.Unlock()
	if handler != nil {
		handler(userID)
	}
}

func (c *mockVoiceConnection) setState(state discord.ConnectionState) {
	c.mu.Lock()
	handler := c.stateChange
	c.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (c *mockVoiceConnection) push(userID string, frames int) {
	c.mu.Lock()
	sub := c.subs[userID]
	c.mu.Unlock()
	for range frames {
		sub.frames <- []byte{0x01}
	}
}

func (c *mockVoiceConnection) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCount
}

func (c *mockVoiceConnection) playCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.played)
}

func (c *mockVoiceConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type joinFunc func(ctx context.Context, guildID, channelID string) (discord.VoiceConnection, error)

type mockDiscordClient struct {
	mu                   sync.Mutex
	sendCalls            []string
	joinCalls            []string
	conns                []*mockVoiceConnection
	join                 joinFunc
	members              map[string][]discord.VoiceParticipant
	userVoiceChannelByID map[string]string
}

func newMockDiscordClient() *mockDiscordClient {
	return &mockDiscordClient{
		members:              make(map[string][]discord.VoiceParticipant),
		userVoiceChannelByID: make(map[string]string),
	}
}

func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) Run() error                      { return nil }

func (m *mockDiscordClient) JoinVoiceChannel(ctx context.Context, guildID, channelID string) (discord.VoiceConnection, error) {
	m.mu.Lock()
	m.joinCalls = append(m.joinCalls, channelID)
	join := m.join
	m.mu.Unlock()
	if join != nil {
		return join(ctx, guildID, channelID)
	}
	conn := newMockVoiceConnection()
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	return conn, nil
}

func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}

func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(_ func(discord.VoiceStateEvent)) {}
func (m *mockDiscordClient) RegisterSlashCommandHandler(_ func(discord.SlashCommandEvent))   {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(_ string, _ []discord.SlashCommandDefinition) error {
	return nil
}

func (m *mockDiscordClient) GetUserVoiceChannelID(_, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userVoiceChannelByID[userID], nil
}

func (m *mockDiscordClient) ListVoiceChannelParticipants(_, channelID string) ([]discord.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]discord.VoiceParticipant(nil), m.members[channelID]...), nil
}

func (m *mockDiscordClient) ListVoiceChannelsWithMembers(_ string) (map[string][]discord.VoiceParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]discord.VoiceParticipant, len(m.members))
	for id, members := range m.members {
		out[id] = append([]discord.VoiceParticipant(nil), members...)
	}
	return out, nil
}

func (m *mockDiscordClient) ResolveChannelNames(_, channelID string) discord.ChannelNames {
	return discord.ChannelNames{GuildName: "Test Guild", ChannelName: "voice-" + channelID}
}

func (m *mockDiscordClient) GetBotUserID() (string, error) { return testBotUserID, nil }

func (m *mockDiscordClient) setMembers(channelID string, members ...discord.VoiceParticipant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[channelID] = members
}

func (m *mockDiscordClient) setJoin(join joinFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.join = join
}

func (m *mockDiscordClient) joins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joinCalls...)
}

func (m *mockDiscordClient) lastConn() *mockVoiceConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.conns) == 0 {
		return nil
	}
	return m.conns[len(m.conns)-1]
}

func (m *mockDiscordClient) sentContaining(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.sendCalls {
		if strings.Contains(msg, substr) {
			n++
		}
	}
	return n
}

type countingDecoder struct {
	decoded *atomic.Int32
}

func (d countingDecoder) Decode(_ []byte) ([]byte, error) {
	d.decoded.Add(1)
	return make([]byte, audio.FrameBytes), nil
}

type mockRecordingLog struct {
	mu        sync.Mutex
	created   []repository.CreateRecordingInput
	updates   []repository.UpdateRecordingInput
	listed    []*repository.Recording
	listErr   error
	listLimit int
}

func (m *mockRecordingLog) CreateRecording(_ context.Context, input repository.CreateRecordingInput) (*repository.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, input)
	return &repository.Recording{ID: input.ID, GuildID: input.GuildID, ChannelID: input.ChannelID, StartedAt: input.StartedAt, Status: repository.RecordingStatusCapturing}, nil
}

func (m *mockRecordingLog) UpdateRecording(_ context.Context, input repository.UpdateRecordingInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, input)
	return nil
}

func (m *mockRecordingLog) ListRecordings(_ context.Context, _ string, limit int) ([]*repository.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listLimit = limit
	return m.listed, m.listErr
}

func (m *mockRecordingLog) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created)
}

func (m *mockRecordingLog) FailUnfinishedRecordings(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (m *mockRecordingLog) statuses() []repository.RecordingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.RecordingStatus, 0, len(m.updates))
	for _, u := range m.updates {
		out = append(out, u.Status)
	}
	return out
}

type mockTranscoder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockTranscoder) Transcode(_ context.Context, _, encodedPath string) error {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(encodedPath, []byte("encoded"), 0o644)
}

type mockStore struct {
	mu    sync.Mutex
	names []string
}

func (m *mockStore) Upload(_ context.Context, _, name string) (storage.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return storage.UploadResult{Key: name, URL: "https://cdn.example.com/" + name}, nil
}

func (m *mockStore) uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.RecordingPayload
}

func (m *mockWebhookSender) SendRecording(_ context.Context, payload webhook.RecordingPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockWebhookSender) sent() []webhook.RecordingPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webhook.RecordingPayload(nil), m.payloads...)
}

type mockTranscriber struct {
	calls atomic.Int32
}

func (m *mockTranscriber) Transcribe(_ context.Context, _ []byte, _ transcriber.AudioFormat) (string, error) {
	m.calls.Add(1)
	return "what time is it", nil
}

type mockResponder struct {
	calls atomic.Int32
}

func (m *mockResponder) Reply(_ context.Context, _ string) (string, error) {
	m.calls.Add(1)
	return "It is noon.", nil
}

type mockSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (m *mockSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return make([]byte, audio.FrameBytes*2), nil
}

func (m *mockSynthesizer) spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type testEnv struct {
	cfg        *config.Config
	dc         *mockDiscordClient
	log        *mockRecordingLog
	transcoder *mockTranscoder
	store      *mockStore
	webhook    *mockWebhookSender
	stt        *mockTranscriber
	llm        *mockResponder
	tts        *mockSynthesizer
	decoded    *atomic.Int32
	manager    *Manager
}

func newTestEnv(t *testing.T, configure func(cfg *config.Config)) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Env:                            "test",
		DiscordGuildID:                 "guild-1",
		RecordingsDir:                  t.TempDir(),
		RecordingSpeakerSilenceTimeout: 5 * time.Second,
		ConversationSilenceTimeout:     100 * time.Millisecond,
		ConversationMinUtterance:       time.Second,
		VoiceConnectTimeout:            time.Second,
		VoiceReconnectWindow:           time.Second,
		StageTimeout:                   time.Second,
		TranscodeTimeout:               time.Second,
		UploadTimeout:                  time.Second,
	}
	if configure != nil {
		configure(cfg)
	}

	env := &testEnv{
		cfg:        cfg,
		dc:         newMockDiscordClient(),
		log:        &mockRecordingLog{},
		transcoder: &mockTranscoder{},
		store:      &mockStore{},
		webhook:    &mockWebhookSender{},
		stt:        &mockTranscriber{},
		llm:        &mockResponder{},
		tts:        &mockSynthesizer{},
		decoded:    &atomic.Int32{},
	}
	processor := recording.NewProcessor(env.transcoder, env.store, env.log, NewRecordingNotifier(env.dc, env.webhook), nil, recording.ProcessorConfig{
		Dir:              cfg.RecordingsDir,
		MinBytes:         cfg.RecordingMinBytes,
		TranscodeTimeout: cfg.TranscodeTimeout,
		UploadTimeout:    cfg.UploadTimeout,
	})
	newDecoder := func() (audio.Decoder, error) {
		return countingDecoder{decoded: env.decoded}, nil
	}
	env.manager = NewManager(cfg, env.dc, newDecoder, processor, env.stt, env.llm, env.tts, nil)
	env.manager.SetBotUserID(testBotUserID)

	t.Cleanup(func() {
		env.manager.StopAllSessions(StopReasonServerClosed)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := env.manager.WaitForProcessing(ctx); err != nil {
			t.Errorf("recording processing did not finish: %v", err)
		}
	})
	return env
}

func (e *testEnv) start(t *testing.T, channelID string, mode Mode) (Info, *mockVoiceConnection) {
	t.Helper()
	info, err := e.manager.Start(context.Background(), "guild-1", channelID, mode)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return info, e.dc.lastConn()
}

func (e *testEnv) waitForProcessing(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.manager.WaitForProcessing(ctx); err != nil {
		t.Fatalf("recording processing did not finish: %v", err)
	}
}

func member(userID string) discord.VoiceParticipant {
	return discord.VoiceParticipant{UserID: userID}
}

func botMember() discord.VoiceParticipant {
	return discord.VoiceParticipant{UserID: testBotUserID, IsBot: true}
}

func TestStart_ConcurrentStartsYieldOneSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.dc.setJoin(func(_ context.Context, _, _ string) (discord.VoiceConnection, error) {
		time.Sleep(20 * time.Millisecond)
		return newMockVoiceConnection(), nil
	})

	const callers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeRecording)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrAlreadyActive):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || rejected.Load() != callers-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d and %d", callers-1, succeeded.Load(), rejected.Load())
	}
	if got := len(env.dc.joins()); got != 1 {
		t.Fatalf("expected a single voice join, got %d", got)
	}
	info, ok := env.manager.Status("guild-1")
	if !ok || info.State != StateActive || info.Mode != ModeRecording {
		t.Fatalf("unexpected status: ok=%v info=%+v", ok, info)
	}
}

func TestStart_ConnectTimeoutReleasesSlot(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.VoiceConnectTimeout = 50 * time.Millisecond
	})
	env.dc.setJoin(func(ctx context.Context, _, _ string) (discord.VoiceConnection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeRecording)
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, ok := env.manager.Status("guild-1"); ok {
		t.Fatal("expected the guild slot to be released")
	}

	env.dc.setJoin(nil)
	if _, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeRecording); err != nil {
		t.Fatalf("expected a retry to succeed, got %v", err)
	}
}

func TestStart_RejectsIdleMode(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeIdle); err == nil {
		t.Fatal("expected an error for idle mode")
	}
	if len(env.dc.joins()) != 0 {
		t.Fatal("expected no voice join")
	}
}

func TestStop_WhileConnectingCancelsJoin(t *testing.T) {
	env := newTestEnv(t, nil)
	joining := make(chan struct{})
	env.dc.setJoin(func(ctx context.Context, _, _ string) (discord.VoiceConnection, error) {
		close(joining)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeRecording)
		errCh <- err
	}()
	<-joining

	res, err := env.manager.Stop("guild-1", StopReasonManualSlash)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if res.State != StateConnecting {
		t.Fatalf("expected stop to report connecting, got %s", res.State)
	}
	if stopEphemeralMessage(res) != messageEphemeralStopWhileJoining {
		t.Fatalf("unexpected stop reply: %q", stopEphemeralMessage(res))
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected start to be canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after stop")
	}
	if _, ok := env.manager.Status("guild-1"); ok {
		t.Fatal("expected the guild slot to be released")
	}
}

func TestStop_JoinCompletingAfterStopLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := newMockVoiceConnection()
	joining := make(chan struct{})
	release := make(chan struct{})
	env.dc.setJoin(func(context.Context, string, string) (discord.VoiceConnection, error) {
		close(joining)
		<-release
		return conn, nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := env.manager.Start(context.Background(), "guild-1", "vc-1", ModeRecording)
		errCh <- err
	}()
	<-joining

	if _, err := env.manager.Stop("guild-1", StopReasonManualSlash); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	close(release)

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected start to be canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after stop")
	}
	env.waitForProcessing(t)

	if n := env.log.createdCount(); n != 0 {
		t.Fatalf("expected no recording log entry, got %d", n)
	}
	if conn.disconnectCount() != 1 {
		t.Fatalf("expected the joined connection to be disconnected, got %d", conn.disconnectCount())
	}
	if env.dc.sentContaining("too short") != 0 || len(env.webhook.sent()) != 0 {
		t.Fatal("expected no notice for a session that never went active")
	}
	if _, ok := env.manager.Status("guild-1"); ok {
		t.Fatal("expected the guild slot to be released")
	}
}

func TestStop_NotActive(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.manager.Stop("guild-1", StopReasonManualSlash); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestStop_DrainsEveryStreamBeforeClosingSink(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RecordingMinBytes = 1 << 30
	})
	_, conn := env.start(t, "vc-1", ModeRecording)

	speakers := []string{"user-1", "user-2", "user-3"}
	for _, userID := range speakers {
		conn.speak(userID)
		conn.push(userID, 5)
	}
	waitUntil(t, 2*time.Second, func() bool {
		return env.decoded.Load() == int32(len(speakers)*5)
	}, "expected every frame to be decoded")

	res, err := env.manager.Stop("guild-1", StopReasonManualSlash)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	want := int64(env.decoded.Load()) * audio.FrameBytes
	if res.ByteSize != want {
		t.Fatalf("expected %d raw bytes, got %d", want, res.ByteSize)
	}
	if res.Participants != len(speakers) {
		t.Fatalf("expected %d participants, got %d", len(speakers), res.Participants)
	}
	if conn.disconnectCount() != 1 {
		t.Fatalf("expected one disconnect, got %d", conn.disconnectCount())
	}

	subscriptions := conn.subscriptions()
	conn.speak("user-4")
	if conn.subscriptions() != subscriptions {
		t.Fatal("expected no new subscription after stop")
	}
	if _, ok := env.manager.Status("guild-1"); ok {
		t.Fatal("expected the guild slot to be released")
	}
	if env.dc.sentContaining("The recording has ended.") != 1 {
		t.Fatal("expected one stop message in the channel")
	}
}

func TestRecording_TwoSpeakersUploaded(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RecordingMinBytes = audio.FrameBytes
	})
	env.dc.setMembers("vc-1", botMember(), member("user-1"), member("user-2"))
	info, conn := env.start(t, "vc-1", ModeRecording)
	if info.Participants != 2 {
		t.Fatalf("expected seeded participants to be 2, got %d", info.Participants)
	}

	conn.speak("user-1")
	conn.speak("user-2")
	conn.push("user-1", 10)
	conn.push("user-2", 10)
	waitUntil(t, 2*time.Second, func() bool { return env.decoded.Load() == 20 }, "expected all frames to be decoded")
	time.Sleep(50 * time.Millisecond)

	res, err := env.manager.Stop("guild-1", StopReasonManualSlash)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if res.ArtifactID == "" {
		t.Fatal("expected an artifact id")
	}
	env.waitForProcessing(t)

	want := []repository.RecordingStatus{
		repository.RecordingStatusConverting,
		repository.RecordingStatusUploading,
		repository.RecordingStatusUploaded,
	}
	got := env.log.statuses()
	if len(got) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, got)
		}
	}

	uploads := env.store.uploads()
	if len(uploads) != 1 || !strings.Contains(uploads[0], "/Test Guild_voice-vc-1_") {
		t.Fatalf("unexpected uploads: %v", uploads)
	}
	payloads := env.webhook.sent()
	if len(payloads) != 1 {
		t.Fatalf("expected one webhook payload, got %d", len(payloads))
	}
	p := payloads[0]
	if p.Status != string(repository.RecordingStatusUploaded) || p.ParticipantCount != 2 || p.URL == "" {
		t.Fatalf("unexpected webhook payload: %+v", p)
	}
	if p.DurationMs < 50 {
		t.Fatalf("expected wall-clock duration of at least 50ms, got %d", p.DurationMs)
	}
	if env.dc.sentContaining("https://cdn.example.com/") != 1 {
		t.Fatal("expected the recording link to be posted")
	}
}

func TestRecording_TranscodeFailureKeepsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.transcoder.err = errors.New("encoder crashed")
	_, conn := env.start(t, "vc-1", ModeRecording)

	conn.speak("user-1")
	conn.push("user-1", 3)
	waitUntil(t, 2*time.Second, func() bool { return env.decoded.Load() == 3 }, "expected frames to be decoded")

	if _, err := env.manager.Stop("guild-1", StopReasonManualSlash); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	env.waitForProcessing(t)

	got := env.log.statuses()
	if len(got) != 2 || got[1] != repository.RecordingStatusFailed {
		t.Fatalf("expected converting then failed, got %v", got)
	}
	if len(env.store.uploads()) != 0 {
		t.Fatal("expected no upload")
	}
	entries, err := os.ReadDir(env.cfg.RecordingsDir)
	if err != nil {
		t.Fatalf("read recordings dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected raw and encoded files to be removed, found %d entries", len(entries))
	}
	payloads := env.webhook.sent()
	if len(payloads) != 1 || payloads[0].Status != string(repository.RecordingStatusFailed) || payloads[0].FailureReason == "" {
		t.Fatalf("unexpected webhook payloads: %+v", payloads)
	}
	if env.dc.sentContaining("could not be saved") != 1 {
		t.Fatal("expected the failure to be posted")
	}
}

func TestRecording_BelowMinimumIsDiscarded(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RecordingMinBytes = 1 << 20
	})
	env.start(t, "vc-1", ModeRecording)
	if _, err := env.manager.Stop("guild-1", StopReasonManualSlash); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	env.waitForProcessing(t)

	got := env.log.statuses()
	if len(got) != 1 || got[0] != repository.RecordingStatusDiscarded {
		t.Fatalf("expected discarded, got %v", got)
	}
	if env.transcoder.calls != 0 {
		t.Fatal("expected no transcode for a discarded recording")
	}
}

func TestConversation_ShortUtteranceIsNotTranscribed(t *testing.T) {
	env := newTestEnv(t, nil)
	_, conn := env.start(t, "vc-1", ModeConversation)
	s := env.manager.lookup("guild-1")

	conn.speak("user-1")
	if s.turns.Owner() != "user-1" {
		t.Fatalf("expected user-1 to own the turn, got %q", s.turns.Owner())
	}
	conn.push("user-1", 20)

	waitUntil(t, 2*time.Second, func() bool {
		return env.decoded.Load() == 20 && s.streams.Len() == 0 && s.turns.State() == conversation.TurnIdle
	}, "expected the short utterance to be finalized")

	if _, err := env.manager.Stop("guild-1", StopReasonManualSlash); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if env.stt.calls.Load() != 0 {
		t.Fatalf("expected no transcription, got %d", env.stt.calls.Load())
	}
	if s.turns.State() != conversation.TurnIdle {
		t.Fatalf("expected idle turn buffer, got %s", s.turns.State())
	}
}

func TestConversation_UtteranceIsAnsweredAloud(t *testing.T) {
	env := newTestEnv(t, nil)
	_, conn := env.start(t, "vc-1", ModeConversation)

	conn.speak("user-1")
	conn.speak("user-2")
	conn.push("user-1", 60)

	waitUntil(t, 3*time.Second, func() bool { return conn.playCount() == 1 }, "expected one spoken reply")
	if env.stt.calls.Load() != 1 || env.llm.calls.Load() != 1 {
		t.Fatalf("expected one transcription and one reply, got %d and %d", env.stt.calls.Load(), env.llm.calls.Load())
	}
	if spoken := env.tts.spoken(); len(spoken) != 1 || spoken[0] != "It is noon." {
		t.Fatalf("unexpected synthesized text: %v", spoken)
	}
	if conn.subscriptions() != 1 {
		t.Fatalf("expected only the turn owner to be captured, got %d subscriptions", conn.subscriptions())
	}
}

func TestConversation_GreetsAfterJoining(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.ConversationGreeting = "Hello, I'm listening."
	})
	_, conn := env.start(t, "vc-1", ModeConversation)

	waitUntil(t, 2*time.Second, func() bool { return conn.playCount() == 1 }, "expected the greeting to be played")
	if spoken := env.tts.spoken(); len(spoken) != 1 || spoken[0] != "Hello, I'm listening." {
		t.Fatalf("unexpected greeting: %v", spoken)
	}
}

func TestConnectionState_ReconnectWindowExpiryStops(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.VoiceReconnectWindow = 50 * time.Millisecond
	})
	_, conn := env.start(t, "vc-1", ModeRecording)

	conn.setState(discord.ConnectionReconnecting)
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := env.manager.Status("guild-1")
		return !ok
	}, "expected the session to stop after the reconnect window")
	waitUntil(t, time.Second, func() bool {
		return env.dc.sentContaining(stopReasonDetail(StopReasonConnectionLost)) == 1
	}, "expected a connection lost message")
}

func TestConnectionState_RecoveryKeepsSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.VoiceReconnectWindow = 100 * time.Millisecond
	})
	_, conn := env.start(t, "vc-1", ModeRecording)

	conn.setState(discord.ConnectionReconnecting)
	conn.setState(discord.ConnectionReady)
	time.Sleep(250 * time.Millisecond)

	if info, ok := env.manager.Status("guild-1"); !ok || info.State != StateActive {
		t.Fatalf("expected the session to survive recovery, ok=%v info=%+v", ok, info)
	}
}

func TestConnectionState_DisconnectedStops(t *testing.T) {
	env := newTestEnv(t, nil)
	_, conn := env.start(t, "vc-1", ModeConversation)

	conn.setState(discord.ConnectionDisconnected)
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := env.manager.Status("guild-1")
		return !ok
	}, "expected the session to stop when the connection closes")
}

func TestStopAllSessions_StopsEveryGuild(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.DiscordGuildID = ""
		cfg.RecordingMinBytes = 1 << 20
	})
	for _, guildID := range []string{"guild-1", "guild-2"} {
		if _, err := env.manager.Start(context.Background(), guildID, "vc-1", ModeRecording); err != nil {
			t.Fatalf("start %s failed: %v", guildID, err)
		}
	}

	if n := env.manager.StopAllSessions(StopReasonServerClosed); n != 2 {
		t.Fatalf("expected 2 stopped sessions, got %d", n)
	}
	for _, guildID := range []string{"guild-1", "guild-2"} {
		if _, ok := env.manager.Status(guildID); ok {
			t.Fatalf("expected %s to be released", guildID)
		}
	}
	if env.dc.sentContaining(stopReasonDetail(StopReasonServerClosed)) != 2 {
		t.Fatal("expected a shutdown message per session")
	}
}

func TestRunSessionWorker_PanicStopsWithUnknownReason(t *testing.T) {
	env := newTestEnv(t, nil)
	env.start(t, "vc-1", ModeRecording)
	s := env.manager.lookup("guild-1")

	env.manager.runSessionWorker(s, "test", func() {
		panic("boom")
	})

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := env.manager.Status("guild-1")
		return !ok
	}, "expected the session to stop after a worker panic")
	waitUntil(t, time.Second, func() bool {
		return env.dc.sentContaining(stopReasonDetail(StopReasonUnknownError)) == 1
	}, "expected an unknown error message")
}

func TestShouldCountParticipant(t *testing.T) {
	env := newTestEnv(t, nil)
	if env.manager.shouldCountParticipant(testBotUserID, true) {
		t.Fatal("the bot itself must never count")
	}
	if env.manager.shouldCountParticipant("other-bot", true) {
		t.Fatal("other bots must not count by default")
	}
	if !env.manager.shouldCountParticipant("user-1", false) {
		t.Fatal("humans must count")
	}

	env.cfg.DiscordCountOtherBots = true
	if !env.manager.shouldCountParticipant("other-bot", true) {
		t.Fatal("other bots must count when configured")
	}
	if env.manager.shouldCountParticipant(testBotUserID, true) {
		t.Fatal("the bot itself must never count")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
