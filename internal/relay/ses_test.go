package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type fakeSES struct {
	sendErr        error
	sendingEnabled bool
	inputs         []*sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func (f *fakeSES) GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error) {
	return &sesv2.GetAccountOutput{SendingEnabled: f.sendingEnabled}, nil
}

func TestSESRelaySend(t *testing.T) {
	fake := &fakeSES{}
	r := NewSESRelayWithClient(SESConfig{Region: "us-east-1", ConfigurationSet: "newsletters"}, fake, testLogger())

	msg := testMessage("reader@example.org")
	msg.NewsletterID = "nl.2026/06"
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(fake.inputs) != 1 {
		t.Fatalf("SendEmail called %d times", len(fake.inputs))
	}
	in := fake.inputs[0]
	if string(in.Content.Raw.Data) != string(msg.Data) {
		t.Error("raw data not passed through")
	}
	if in.Destination.ToAddresses[0] != "reader@example.org" {
		t.Errorf("destination = %v", in.Destination.ToAddresses)
	}
	if aws.ToString(in.ConfigurationSetName) != "newsletters" {
		t.Errorf("configuration set = %q", aws.ToString(in.ConfigurationSetName))
	}
	if got := aws.ToString(in.EmailTags[0].Value); got != "nl_2026_06" {
		t.Errorf("newsletter tag = %q, want nl_2026_06", got)
	}
}

func TestSESRelayErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTemporary bool
	}{
		{"throttled", &types.TooManyRequestsException{Message: aws.String("slow down")}, true},
		{"rejected", &types.MessageRejected{Message: aws.String("bad content")}, false},
		{"paused", &types.SendingPausedException{Message: aws.String("paused")}, false},
		{"network", errors.New("dial tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSESRelayWithClient(SESConfig{Region: "us-east-1"}, &fakeSES{sendErr: tt.err}, testLogger())
			err := r.Send(context.Background(), testMessage("reader@example.org"))
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTemporaryError(err) != tt.wantTemporary {
				t.Errorf("IsTemporaryError() = %v, want %v", IsTemporaryError(err), tt.wantTemporary)
			}
		})
	}
}

func TestSESRelayVerifyAndValidate(t *testing.T) {
	r := NewSESRelayWithClient(SESConfig{Region: "us-east-1"}, &fakeSES{sendingEnabled: true}, testLogger())
	if err := r.Verify(context.Background()); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	r = NewSESRelayWithClient(SESConfig{Region: "us-east-1"}, &fakeSES{sendingEnabled: false}, testLogger())
	if err := r.Verify(context.Background()); err == nil {
		t.Error("Verify() expected error when sending is disabled")
	}

	if err := NewSESRelayWithClient(SESConfig{}, &fakeSES{}, testLogger()).Validate(); err == nil {
		t.Error("Validate() expected error without region")
	}
	if err := NewSESRelayWithClient(SESConfig{Region: "eu-west-1", AccessKey: "AKIA"}, &fakeSES{}, testLogger()).Validate(); err == nil {
		t.Error("Validate() expected error for access key without secret")
	}
	if got := r.Limits().MaxConnections; got != 10 {
		t.Errorf("MaxConnections = %d, want 10", got)
	}
}
