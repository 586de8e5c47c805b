package escalation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"pillpal/internal/escalation"
	"pillpal/internal/models"
	"pillpal/internal/reminder"
	"pillpal/internal/reminder/remindertest"
)

// fakeChannel fails for the configured addresses and records every send
type fakeChannel struct {
	mu      sync.Mutex
	failFor map[string]bool
	block   map[string]chan struct{}
	sent    []sentMessage
}

type sentMessage struct {
	address string
	body    string
}

func newFakeChannel(failFor ...string) *fakeChannel {
	ch := &fakeChannel{failFor: make(map[string]bool), block: make(map[string]chan struct{})}
	for _, addr := range failFor {
		ch.failFor[addr] = true
	}
	return ch
}

func (f *fakeChannel) Send(ctx context.Context, address, body string) (string, error) {
	f.mu.Lock()
	gate := f.block[address]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[address] {
		return "", errors.New("provider rejected number")
	}
	f.sent = append(f.sent, sentMessage{address: address, body: body})
	return fmt.Sprintf("SM%03d", len(f.sent)), nil
}

func (f *fakeChannel) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type staticDirectory []models.Caretaker

func (d staticDirectory) Caretakers(ctx context.Context) ([]models.Caretaker, error) {
	return d, nil
}

var (
	scheduled = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	daughter = models.Caretaker{ID: "c1", Name: "Maya", Relationship: "daughter", Address: "+15550001", NotifyMissed: true, NotifyTaken: true, NotifySkipped: true}
	doctor   = models.Caretaker{ID: "c2", Name: "Dr. Lee", Relationship: "doctor", Address: "+15550002", NotifyMissed: true}
)

func missedAmoxicillin() models.DoseInstance {
	resolved := scheduled.Add(15 * time.Minute)
	return models.DoseInstance{
		ID:             models.NewDoseInstanceID("amox", scheduled),
		MedicationName: "Amoxicillin",
		Dosage:         "500mg",
		State:          models.DoseStateMissed,
		ScheduledAt:    scheduled,
		ResolvedAt:     &resolved,
		Resolution:     models.ResolutionMissed,
		UpdatedAt:      resolved,
	}
}

func newDispatcher(ch escalation.MessageChannel, log *remindertest.MemoryLog, prefs *remindertest.Prefs, dir escalation.CaretakerDirectory) *escalation.Dispatcher {
	return escalation.NewDispatcher(escalation.Config{
		Channel:   ch,
		Directory: dir,
		Log:       log,
		Prefs:     prefs,
		Clock:     clockwork.NewFakeClockAt(scheduled.Add(15 * time.Minute)),
		Location:  time.UTC,
	})
}

func TestNotifyPartialSuccess(t *testing.T) {
	ch := newFakeChannel(doctor.Address)
	log := remindertest.NewMemoryLog()
	d := newDispatcher(ch, log, remindertest.NewPrefs(), nil)

	results := d.Notify(context.Background(), missedAmoxicillin(), models.ResolutionMissed, []models.Caretaker{daughter, doctor})
	if len(results) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(results))
	}

	byCaretaker := make(map[string]models.EscalationOutcome)
	for _, r := range results {
		byCaretaker[r.CaretakerID] = r
	}

	if ok := byCaretaker["c1"]; !ok.Success || ok.ProviderMessageID == "" || ok.Error != "" {
		t.Errorf("Expected success for daughter, got %+v", ok)
	}
	if failed := byCaretaker["c2"]; failed.Success || failed.Error == "" {
		t.Errorf("Expected failure with detail for doctor, got %+v", failed)
	}

	logged := log.Outcomes()
	if len(logged) != 2 {
		t.Fatalf("Expected both outcomes logged, got %d", len(logged))
	}
	for _, o := range logged {
		if o.Body == "" || o.Address == "" || o.InstanceKey != "amox@2026-03-10T08:00" {
			t.Errorf("Incomplete outcome record: %+v", o)
		}
	}

	if sent := ch.messages(); len(sent) != 1 || sent[0].address != daughter.Address {
		t.Errorf("Expected exactly one delivered message, got %+v", sent)
	}
}

func TestNotifySlowRecipientDoesNotBlockOthers(t *testing.T) {
	ch := newFakeChannel()
	gate := make(chan struct{})
	ch.block[doctor.Address] = gate

	d := newDispatcher(ch, remindertest.NewMemoryLog(), remindertest.NewPrefs(), nil)

	done := make(chan []models.EscalationOutcome)
	go func() {
		done <- d.Notify(context.Background(), missedAmoxicillin(), models.ResolutionMissed, []models.Caretaker{daughter, doctor})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sent := ch.messages(); len(sent) != 1 || sent[0].address != daughter.Address {
		t.Fatalf("Expected daughter to be notified while doctor blocks, got %+v", sent)
	}

	close(gate)
	if results := <-done; len(results) != 2 {
		t.Errorf("Expected 2 outcomes, got %d", len(results))
	}
}

func TestNotifyFiltersBySubscription(t *testing.T) {
	tests := []struct {
		kind models.ResolutionKind
		want []string
	}{
		{models.ResolutionMissed, []string{"c1", "c2"}},
		{models.ResolutionTakenOnTime, []string{"c1"}},
		{models.ResolutionTakenLate, []string{"c1"}},
		{models.ResolutionSkipped, []string{"c1"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ch := newFakeChannel()
			d := newDispatcher(ch, remindertest.NewMemoryLog(), remindertest.NewPrefs(), nil)

			results := d.Notify(context.Background(), missedAmoxicillin(), tt.kind, []models.Caretaker{daughter, doctor})
			if len(results) != len(tt.want) {
				t.Fatalf("Expected %d recipients, got %d", len(tt.want), len(results))
			}
			got := make(map[string]bool)
			for _, r := range results {
				got[r.CaretakerID] = true
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("Expected %s to be notified", id)
				}
			}
		})
	}
}

func TestNotifyWithoutCaretakers(t *testing.T) {
	ch := newFakeChannel()
	log := remindertest.NewMemoryLog()
	d := newDispatcher(ch, log, remindertest.NewPrefs(), nil)

	if results := d.Notify(context.Background(), missedAmoxicillin(), models.ResolutionMissed, nil); results != nil {
		t.Errorf("Expected no outcomes, got %+v", results)
	}
	if len(ch.messages()) != 0 || len(log.Outcomes()) != 0 {
		t.Error("Expected nothing to be sent or logged")
	}
}

func TestComposeMessage(t *testing.T) {
	inst := missedAmoxicillin()

	tests := []struct {
		kind models.ResolutionKind
		want []string
	}{
		{models.ResolutionMissed, []string{"🚨 PILLPAL ALERT", "Grandpa Joe has MISSED", "Amoxicillin (500mg)", "8:00 AM"}},
		{models.ResolutionTakenOnTime, []string{"✅ PILLPAL UPDATE", "ON TIME at 8:15 AM"}},
		{models.ResolutionTakenLate, []string{"LATE at 8:15 AM", "Better late than never"}},
		{models.ResolutionSnoozedThenTaken, []string{"after snoozing"}},
		{models.ResolutionSkipped, []string{"SKIPPED", "chose not to take it"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg := escalation.ComposeMessage("Grandpa Joe", inst, tt.kind, time.UTC)
			for _, fragment := range tt.want {
				if !strings.Contains(msg, fragment) {
					t.Errorf("Expected %q in %q", fragment, msg)
				}
			}
		})
	}
}

func TestRunSkipsWhenSMSDisabled(t *testing.T) {
	ch := newFakeChannel()
	prefs := remindertest.NewPrefs()
	p := models.DefaultPreferences()
	p.SMSEnabled = false
	prefs.Set(p)

	d := newDispatcher(ch, remindertest.NewMemoryLog(), prefs, staticDirectory{daughter})

	outcomes := make(chan models.DoseOutcome, 1)
	outcomes <- models.DoseOutcome{Instance: missedAmoxicillin(), Resolution: models.ResolutionMissed}
	close(outcomes)

	d.Run(context.Background(), outcomes)
	if n := len(ch.messages()); n != 0 {
		t.Errorf("Expected no messages with SMS disabled, got %d", n)
	}
}

// Amoxicillin 500mg at 08:00 and 20:00: the 08:00 reminder goes unanswered
// and the one subscribed caretaker gets exactly one missed-dose message.
func TestMissedDoseEndToEnd(t *testing.T) {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(day.Add(7 * time.Hour))
	sched := remindertest.NewFakeScheduler(clock)
	log := remindertest.NewMemoryLog()
	prefs := remindertest.NewPrefs()
	outcomes := make(chan models.DoseOutcome, 16)

	svc := reminder.NewService(reminder.TrackerConfig{
		Clock:     clock,
		Location:  time.UTC,
		Scheduler: sched,
		Log:       log,
		Outcomes:  outcomes,
	}, remindertest.NewMedications(remindertest.Amoxicillin()), prefs)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	ch := newFakeChannel()
	subscribed := models.Caretaker{ID: "c1", Name: "Maya", Address: "+15550001", NotifyMissed: true}
	d := escalation.NewDispatcher(escalation.Config{
		Channel:   ch,
		Directory: staticDirectory{subscribed},
		Log:       log,
		Prefs:     prefs,
		Clock:     clock,
		Location:  time.UTC,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		d.Run(ctx, outcomes)
		close(runDone)
	}()

	sched.Advance(time.Hour)
	id := models.NewDoseInstanceID("amox", day.Add(8*time.Hour))
	if got, ok := svc.Get(id); !ok || got.State != models.DoseStateNotified {
		t.Fatalf("Expected NOTIFIED at 08:00, got %+v", got)
	}

	sched.Advance(15 * time.Minute)
	if got, _ := svc.Get(id); got.State != models.DoseStateMissed {
		t.Fatalf("Expected MISSED at 08:15, got %s", got.State)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ch.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// A late confirmation tap must not escalate again
	if _, err := svc.ConfirmTaken(context.Background(), id); err != nil {
		t.Fatalf("ConfirmTaken failed: %v", err)
	}

	cancel()
	<-runDone

	sent := ch.messages()
	if len(sent) != 1 {
		t.Fatalf("Expected exactly one message, got %d", len(sent))
	}
	if !strings.Contains(sent[0].body, "Amoxicillin") || !strings.Contains(sent[0].body, "500mg") || !strings.Contains(sent[0].body, "MISSED") {
		t.Errorf("Unexpected message body %q", sent[0].body)
	}
	if n := log.TerminalCount(id); n != 1 {
		t.Errorf("Expected one terminal record, got %d", n)
	}
}
