// Wearsync-sim runs two simulated devices on an in-process fabric and walks
// them through a recording session: remote start/stop from the phone, audio
// and metadata sync from the watch, and an offline edit that drains once
// connectivity returns.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asteroid-belt/wearsync/internal/cli"
	"github.com/asteroid-belt/wearsync/internal/db"
	"github.com/asteroid-belt/wearsync/internal/listener"
	"github.com/asteroid-belt/wearsync/internal/models"
	"github.com/asteroid-belt/wearsync/internal/queue"
	"github.com/asteroid-belt/wearsync/internal/remote"
	"github.com/asteroid-belt/wearsync/internal/syncer"
	"github.com/asteroid-belt/wearsync/internal/transport/mem"
	"github.com/asteroid-belt/wearsync/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wearsync-sim: %v\n", err)
		os.Exit(1)
	}
}

// device is one simulated end of the pair: a full engine on a mem node.
type device struct {
	name       string
	dir        string
	store      *db.DB
	node       *mem.Node
	svc        *syncer.Service
	controller *remote.Controller
	queue      *queue.Queue
	listener   *listener.Listener
}

func newDevice(ctx context.Context, fabric *mem.Fabric, id, name, dir string) (*device, error) {
	store, err := db.New(db.DefaultConfig(filepath.Join(dir, "wearsync.db")))
	if err != nil {
		return nil, fmt.Errorf("%s: open store: %w", name, err)
	}

	node := fabric.AddNode(id, name)

	syncCfg := models.DefaultSyncConfiguration()
	syncCfg.RetryDelayMs = 50

	svc, err := syncer.New(store, node.Transports(), syncCfg,
		syncer.WithDeviceName(name),
		syncer.WithAudioDir(filepath.Join(dir, "received")),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%s: build sync service: %w", name, err)
	}
	svc.Start(ctx)

	controller := remote.New(svc)
	controller.SetConfirmTimeout(3 * time.Second)
	controller.Start(ctx)

	q := queue.New(store, svc, node, models.DefaultRetryPolicy(), syncCfg, queue.Options{
		ProcessInterval: 2 * time.Second,
		RetryInterval:   5 * time.Second,
		SettleDelay:     300 * time.Millisecond,
	})
	q.Start(ctx)

	lst := listener.New(store, svc, q, listener.Options{
		AudioDelay:       500 * time.Millisecond,
		RemoteAudioDelay: time.Second,
	})
	lst.Start(ctx)

	return &device{
		name: name, dir: dir, store: store, node: node,
		svc: svc, controller: controller, queue: q, listener: lst,
	}, nil
}

func (d *device) close() {
	d.listener.Stop()
	d.queue.Stop()
	d.controller.Stop()
	d.svc.Stop()
	d.node.Close()
	_ = d.store.Close()
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root, err := os.MkdirTemp("", "wearsync-sim-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(root) }()

	fabric := mem.NewFabric()
	fabric.SetPropagationDelay(100 * time.Millisecond)

	watch, err := newDevice(ctx, fabric, "sim-watch", "watch", filepath.Join(root, "watch"))
	if err != nil {
		return err
	}
	defer watch.close()

	phone, err := newDevice(ctx, fabric, "sim-phone", "phone", filepath.Join(root, "phone"))
	if err != nil {
		return err
	}
	defer phone.close()

	// The engine only controls a recorder; the watch app owns it. The sim
	// stands in for that app.
	rec := &simRecorder{device: watch}
	rec.start(ctx)

	fmt.Println("== phone starts a recording on the watch ==")
	peers, err := phone.svc.ConnectedPeers(ctx)
	if err != nil || len(peers) == 0 {
		return fmt.Errorf("phone sees no peers")
	}
	recordingID, err := phone.controller.StartRecordingOnDevice(ctx, peers[0], "morning standup")
	if err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	fmt.Printf("phone: requested recording %s\n", recordingID)

	time.Sleep(time.Second)
	if phone.controller.IsDeviceRecording("sim-watch") {
		fmt.Println("phone: watch confirmed it is recording")
	}

	fmt.Println("\n== phone stops the recording ==")
	if err := phone.controller.StopRecording(ctx, recordingID); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}

	// Watch writes the file, its listener syncs metadata and audio over.
	// The watch's sender-side progress stream drives an in-place bar.
	progressCh, cancelProgress := watch.svc.TransferProgress()
	go func() {
		var bar *cli.ProgressBar
		for p := range progressCh {
			if p.TotalBytes == 0 {
				continue
			}
			if bar == nil {
				bar = cli.NewProgressBar(p.TotalBytes, 20)
			}
			bar.Update(p.BytesTransferred, "audio")
			cli.ClearLine()
			fmt.Print(bar.Render())
			if p.Complete {
				fmt.Println()
				return
			}
		}
	}()

	waitFor(8*time.Second, func() bool {
		r, err := phone.store.GetRecording(recordingID)
		return err == nil && r != nil && r.FilePath != ""
	})
	cancelProgress()
	if r, _ := phone.store.GetRecording(recordingID); r != nil {
		fmt.Printf("phone: has %q (%d bytes, %s)\n", r.Title, r.SizeBytes, r.SyncStatus)
	} else {
		fmt.Println("phone: recording never arrived")
	}

	fmt.Println("\n== watch goes offline and renames the recording ==")
	watch.node.SetOnline(false)
	if _, err := watch.queue.Enqueue(models.OpUpdateTitle, recordingID,
		models.Payload{syncer.PayloadTitle: "standup notes"}, models.PriorityHigh); err != nil {
		return fmt.Errorf("enqueue title update: %w", err)
	}
	time.Sleep(3 * time.Second)
	if st, err := watch.queue.Status(); err == nil {
		fmt.Printf("watch: offline with %d operation(s) queued\n", st.Active)
	}

	fmt.Println("\n== watch comes back online ==")
	watch.node.SetOnline(true)
	waitFor(10*time.Second, func() bool {
		r, err := phone.store.GetRecording(recordingID)
		return err == nil && r != nil && r.Title == "standup notes"
	})
	if r, _ := phone.store.GetRecording(recordingID); r != nil {
		fmt.Printf("phone: now sees title %q\n", r.Title)
	}

	fmt.Println("\n== final state ==")
	for _, d := range []*device{watch, phone} {
		recs, err := d.store.ListRecordings()
		if err != nil {
			continue
		}
		fmt.Printf("%s: %d recording(s)\n", d.name, len(recs))
		for _, r := range recs {
			fmt.Printf("  %s %q tags=%v status=%s\n", r.ID, r.Title, []string(r.Tags), r.SyncStatus)
		}
	}
	return nil
}

func waitFor(timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// simRecorder plays the role of the watch's recorder app: it answers control
// messages with status broadcasts and materializes an audio file on stop.
type simRecorder struct {
	device    *device
	startedAt time.Time
	title     string
}

func (r *simRecorder) start(ctx context.Context) {
	in, cancel := r.device.node.Observe(wire.PathRecordingControl)
	go func() {
		defer cancel()
		for {
			select {
			case msg, ok := <-in:
				if !ok {
					return
				}
				r.handle(ctx, msg.Message.Payload)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *simRecorder) handle(ctx context.Context, payload []byte) {
	p, err := wire.DecodeControl(payload)
	if err != nil {
		return
	}
	switch c := p.(type) {
	case wire.StartRecording:
		r.startedAt = time.Now()
		r.title = c.Title
		reply, _ := wire.NewMessage(wire.PathRecordingStatus,
			wire.NewRecordingStarted(c.RecordingID, c.Title, r.device.name, r.startedAt))
		_ = r.device.node.Broadcast(ctx, reply)
		fmt.Printf("watch: recording %s started\n", c.RecordingID)

	case wire.StopRecording:
		durationMs := time.Since(r.startedAt).Milliseconds()
		if err := r.materialize(c.RecordingID, durationMs); err != nil {
			fmt.Printf("watch: materialize recording: %v\n", err)
			return
		}
		reply, _ := wire.NewMessage(wire.PathRecordingStatus,
			wire.NewRecordingStopped(c.RecordingID, durationMs))
		_ = r.device.node.Broadcast(ctx, reply)
		fmt.Printf("watch: recording %s stopped after %dms\n", c.RecordingID, durationMs)
	}
}

// materialize writes a silent WAV and registers the recording locally. The
// watch engine's completion listener takes it from there.
func (r *simRecorder) materialize(recordingID string, durationMs int64) error {
	audioDir := filepath.Join(r.device.dir, "audio")
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(audioDir, recordingID+".wav")
	data := silentWAV(16000, durationMs)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	return r.device.store.CreateRecording(&models.Recording{
		ID:         recordingID,
		Title:      r.title,
		FilePath:   path,
		DurationMs: durationMs,
		SizeBytes:  int64(len(data)),
		Format:     "wav",
		SampleRate: 16000,
		DeviceID:   "sim-watch",
		SyncStatus: models.SyncPending,
		CreatedAt:  r.startedAt,
		UpdatedAt:  time.Now(),
	})
}

// silentWAV builds a minimal PCM16 mono WAV of the given duration.
func silentWAV(sampleRate int, durationMs int64) []byte {
	samples := int(int64(sampleRate) * durationMs / 1000)
	if samples > sampleRate*10 {
		samples = sampleRate * 10
	}
	dataLen := samples * 2

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	return buf
}
