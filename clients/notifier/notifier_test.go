package notifier

import (
	"context"
	"errors"
	"testing"
)

// mockNotifier is a test helper that implements Notifier interface
type mockNotifier struct {
	delivered   []string
	deliverErr  error
	closeErr    error
	closeCalled bool
}

func (m *mockNotifier) Deliver(ctx context.Context, userID string, text string) error {
	m.delivered = append(m.delivered, userID+":"+text)
	return m.deliverErr
}

func (m *mockNotifier) Close() error {
	m.closeCalled = true
	return m.closeErr
}

func TestNewMultiNotifier_FiltersNil(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, nil, mock2, nil)

	if mn.Count() != 2 {
		t.Errorf("expected 2 notifiers, got %d", mn.Count())
	}
}

func TestNewMultiNotifier_AllNil(t *testing.T) {
	mn := NewMultiNotifier(nil, nil, nil)

	if mn.Count() != 0 {
		t.Errorf("expected 0 notifiers, got %d", mn.Count())
	}
}

func TestMultiNotifier_Deliver(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	if err := mn.Deliver(context.Background(), "user-1", "whale alert"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if len(mock1.delivered) != 1 {
		t.Errorf("expected 1 delivery for mock1, got %d", len(mock1.delivered))
	}
	if len(mock2.delivered) != 1 {
		t.Errorf("expected 1 delivery for mock2, got %d", len(mock2.delivered))
	}
	if mock1.delivered[0] != "user-1:whale alert" {
		t.Errorf("unexpected delivery: %s", mock1.delivered[0])
	}
}

func TestMultiNotifier_Deliver_OneFails(t *testing.T) {
	failErr := errors.New("send failed")
	mock1 := &mockNotifier{deliverErr: failErr}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	err := mn.Deliver(context.Background(), "u", "text")
	if err != failErr {
		t.Errorf("expected %v, got %v", failErr, err)
	}
	// Second notifier still receives the delivery.
	if len(mock2.delivered) != 1 {
		t.Errorf("expected mock2 delivery despite mock1 failure, got %d", len(mock2.delivered))
	}
}

func TestMultiNotifier_Deliver_NoNotifiers(t *testing.T) {
	mn := NewMultiNotifier()

	if err := mn.Deliver(context.Background(), "u", "text"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMultiNotifier_Close_Success(t *testing.T) {
	mock1 := &mockNotifier{}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	if err := mn.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !mock1.closeCalled {
		t.Error("expected mock1.Close() to be called")
	}
	if !mock2.closeCalled {
		t.Error("expected mock2.Close() to be called")
	}
}

func TestMultiNotifier_Close_WithError(t *testing.T) {
	expectedErr := errors.New("close error")
	mock1 := &mockNotifier{closeErr: expectedErr}
	mock2 := &mockNotifier{}

	mn := NewMultiNotifier(mock1, mock2)

	if err := mn.Close(); err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	// Both should still be called
	if !mock1.closeCalled {
		t.Error("expected mock1.Close() to be called")
	}
	if !mock2.closeCalled {
		t.Error("expected mock2.Close() to be called")
	}
}

func TestMultiNotifier_Count(t *testing.T) {
	tests := []struct {
		name      string
		notifiers []Notifier
		expected  int
	}{
		{"empty", []Notifier{}, 0},
		{"one", []Notifier{&mockNotifier{}}, 1},
		{"three", []Notifier{&mockNotifier{}, &mockNotifier{}, &mockNotifier{}}, 3},
		{"with nils", []Notifier{&mockNotifier{}, nil, &mockNotifier{}}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mn := NewMultiNotifier(tt.notifiers...)
			if mn.Count() != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, mn.Count())
			}
		})
	}
}
