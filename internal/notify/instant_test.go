package notify

import (
	"context"
	"strings"
	"testing"
)

type fakeUsers struct {
	users map[string]PushUser
}

func (f *fakeUsers) GetPushUser(ctx context.Context, userID string) (PushUser, error) {
	return f.users[userID], nil
}

func TestInstantFriendRequest(t *testing.T) {
	users := &fakeUsers{users: map[string]PushUser{
		"u1": {Username: "casey", PushToken: token("ExponentPushToken[u1]"), PushEnabled: true},
	}}
	records := newFakeRecords()
	gateway := &fakeGateway{}

	i := NewInstant(users, records, gateway, discardLogger())
	result, err := i.Send(context.Background(), InstantRequest{
		UserID: "u1",
		Type:   InstantFriendRequest,
		Data:   map[string]string{"from_username": "jordan", "from_user_id": "u2"},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.Sent {
		t.Fatalf("Send() = %+v, want sent", result)
	}

	msg := gateway.batches[0][0]
	if !strings.Contains(msg.Body, "jordan") {
		t.Errorf("body %q missing sender username", msg.Body)
	}
	if len(records.records) != 1 || records.records[0].Type != InstantFriendRequest {
		t.Errorf("records = %+v", records.records)
	}
	if records.records[0].GoalID != "" {
		t.Error("instant record must not reference a goal")
	}
}

func TestInstantSkipsIneligibleUser(t *testing.T) {
	users := &fakeUsers{users: map[string]PushUser{
		"u1": {Username: "casey", PushEnabled: false},
	}}
	gateway := &fakeGateway{}

	i := NewInstant(users, newFakeRecords(), gateway, discardLogger())
	result, err := i.Send(context.Background(), InstantRequest{
		UserID: "u1",
		Type:   InstantFriendAccepted,
		Data:   map[string]string{"from_username": "jordan"},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Sent || result.Reason != "notifications_disabled" {
		t.Fatalf("Send() = %+v", result)
	}
	if gateway.batchCount() != 0 {
		t.Error("ineligible user must not be dispatched")
	}
}

func TestInstantUnknownType(t *testing.T) {
	i := NewInstant(&fakeUsers{}, newFakeRecords(), &fakeGateway{}, discardLogger())
	_, err := i.Send(context.Background(), InstantRequest{UserID: "u1", Type: "mystery"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestInstantRejectedDelivery(t *testing.T) {
	users := &fakeUsers{users: map[string]PushUser{
		"u1": {Username: "casey", PushToken: token("ExponentPushToken[u1]"), PushEnabled: true},
	}}
	records := newFakeRecords()
	gateway := &fakeGateway{outcomes: []DeliveryOutcome{
		{Status: OutcomeRejected, Reason: "DeviceNotRegistered"},
	}}

	i := NewInstant(users, records, gateway, discardLogger())
	result, err := i.Send(context.Background(), InstantRequest{
		UserID: "u1",
		Type:   InstantFriendRequest,
		Data:   map[string]string{"from_username": "jordan"},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Sent || result.Reason != "DeviceNotRegistered" {
		t.Fatalf("Send() = %+v", result)
	}
	if len(records.records) != 0 {
		t.Error("rejected delivery must not be recorded")
	}
}
