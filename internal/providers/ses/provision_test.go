package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"mailwatch/internal/track"
)

const (
	testTopicArn        = "arn:aws:sns:eu-west-1:123456789012:mailwatch-events"
	testSubscriptionArn = testTopicArn + ":11111111-2222-3333-4444-555555555555"
	testWebhookURL      = "https://mail.example.test/webhooks/mails/ses"
)

type fakeSES struct {
	configSetExists   bool
	destinationExists bool
	getConfigErr      error

	getConfigCalls        int
	createConfigCalls     int
	createDestCalls       int
	updateDestCalls       int
	deleteSuppressedErr   error
	deleteSuppressedCalls int

	lastDestination *sestypes.EventDestinationDefinition
}

func (f *fakeSES) GetConfigurationSet(_ context.Context, _ *sesv2.GetConfigurationSetInput, _ ...func(*sesv2.Options)) (*sesv2.GetConfigurationSetOutput, error) {
	f.getConfigCalls++
	if f.getConfigErr != nil {
		return nil, f.getConfigErr
	}
	if !f.configSetExists {
		return nil, &sestypes.NotFoundException{}
	}
	return &sesv2.GetConfigurationSetOutput{}, nil
}

func (f *fakeSES) CreateConfigurationSet(_ context.Context, _ *sesv2.CreateConfigurationSetInput, _ ...func(*sesv2.Options)) (*sesv2.CreateConfigurationSetOutput, error) {
	f.createConfigCalls++
	f.configSetExists = true
	return &sesv2.CreateConfigurationSetOutput{}, nil
}

func (f *fakeSES) GetConfigurationSetEventDestinations(_ context.Context, _ *sesv2.GetConfigurationSetEventDestinationsInput, _ ...func(*sesv2.Options)) (*sesv2.GetConfigurationSetEventDestinationsOutput, error) {
	if !f.destinationExists {
		return &sesv2.GetConfigurationSetEventDestinationsOutput{}, nil
	}
	return &sesv2.GetConfigurationSetEventDestinationsOutput{
		EventDestinations: []sestypes.EventDestination{{Name: aws.String("mailwatch-webhook")}},
	}, nil
}

func (f *fakeSES) CreateConfigurationSetEventDestination(_ context.Context, in *sesv2.CreateConfigurationSetEventDestinationInput, _ ...func(*sesv2.Options)) (*sesv2.CreateConfigurationSetEventDestinationOutput, error) {
	f.createDestCalls++
	f.lastDestination = in.EventDestination
	return &sesv2.CreateConfigurationSetEventDestinationOutput{}, nil
}

func (f *fakeSES) UpdateConfigurationSetEventDestination(_ context.Context, in *sesv2.UpdateConfigurationSetEventDestinationInput, _ ...func(*sesv2.Options)) (*sesv2.UpdateConfigurationSetEventDestinationOutput, error) {
	f.updateDestCalls++
	f.lastDestination = in.EventDestination
	return &sesv2.UpdateConfigurationSetEventDestinationOutput{}, nil
}

func (f *fakeSES) DeleteSuppressedDestination(_ context.Context, _ *sesv2.DeleteSuppressedDestinationInput, _ ...func(*sesv2.Options)) (*sesv2.DeleteSuppressedDestinationOutput, error) {
	f.deleteSuppressedCalls++
	if f.deleteSuppressedErr != nil {
		return nil, f.deleteSuppressedErr
	}
	return &sesv2.DeleteSuppressedDestinationOutput{}, nil
}

type fakeSNS struct {
	topicExists        bool
	subscriptionExists bool
	pendingArn         string

	createTopicCalls   int
	subscribeCalls     int
	setSubAttrCalls    int
	setTopicAttrCalls  int
	lastTopicAttrName  string
	lastTopicAttrValue string
}

func (f *fakeSNS) ListTopics(_ context.Context, _ *sns.ListTopicsInput, _ ...func(*sns.Options)) (*sns.ListTopicsOutput, error) {
	if !f.topicExists {
		return &sns.ListTopicsOutput{}, nil
	}
	return &sns.ListTopicsOutput{
		Topics: []snstypes.Topic{{TopicArn: aws.String(testTopicArn)}},
	}, nil
}

func (f *fakeSNS) CreateTopic(_ context.Context, _ *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	f.createTopicCalls++
	f.topicExists = true
	return &sns.CreateTopicOutput{TopicArn: aws.String(testTopicArn)}, nil
}

func (f *fakeSNS) ListSubscriptionsByTopic(_ context.Context, _ *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	if !f.subscriptionExists {
		return &sns.ListSubscriptionsByTopicOutput{}, nil
	}
	return &sns.ListSubscriptionsByTopicOutput{
		Subscriptions: []snstypes.Subscription{{
			Protocol:        aws.String("https"),
			Endpoint:        aws.String(testWebhookURL),
			SubscriptionArn: aws.String(testSubscriptionArn),
		}},
	}, nil
}

func (f *fakeSNS) Subscribe(_ context.Context, _ *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	f.subscribeCalls++
	arn := testSubscriptionArn
	if f.pendingArn != "" {
		arn = f.pendingArn
	}
	return &sns.SubscribeOutput{SubscriptionArn: aws.String(arn)}, nil
}

func (f *fakeSNS) SetSubscriptionAttributes(_ context.Context, _ *sns.SetSubscriptionAttributesInput, _ ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error) {
	f.setSubAttrCalls++
	return &sns.SetSubscriptionAttributesOutput{}, nil
}

func (f *fakeSNS) SetTopicAttributes(_ context.Context, in *sns.SetTopicAttributesInput, _ ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error) {
	f.setTopicAttrCalls++
	f.lastTopicAttrName = aws.ToString(in.AttributeName)
	f.lastTopicAttrValue = aws.ToString(in.AttributeValue)
	return &sns.SetTopicAttributesOutput{}, nil
}

type recordingReporter struct {
	progress []string
	failed   []string
}

func (r *recordingReporter) Progress(step, _ string) { r.progress = append(r.progress, step) }
func (r *recordingReporter) Failed(step string, _ error) {
	r.failed = append(r.failed, step)
}

func provisionDriver(sesClient sesAPI, snsClient snsAPI) *Driver {
	return NewWithClients(Options{
		Region:           "eu-west-1",
		WebhookURL:       testWebhookURL,
		SubscriptionWait: 1, // nanosecond, keep tests fast
	}, sesClient, snsClient)
}

func TestProvisionCreatesEverything(t *testing.T) {
	sesClient := &fakeSES{}
	snsClient := &fakeSNS{}
	d := provisionDriver(sesClient, snsClient)
	rep := &recordingReporter{}

	if err := d.Provision(context.Background(), rep); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if sesClient.createConfigCalls != 1 {
		t.Fatalf("configuration set creates = %d, want 1", sesClient.createConfigCalls)
	}
	if snsClient.createTopicCalls != 1 {
		t.Fatalf("topic creates = %d, want 1", snsClient.createTopicCalls)
	}
	if snsClient.subscribeCalls != 1 {
		t.Fatalf("subscribes = %d, want 1", snsClient.subscribeCalls)
	}
	if snsClient.setSubAttrCalls != 1 {
		t.Fatalf("subscription attribute updates = %d, want 1", snsClient.setSubAttrCalls)
	}
	if sesClient.createDestCalls != 1 {
		t.Fatalf("event destination creates = %d, want 1", sesClient.createDestCalls)
	}
	if len(rep.failed) != 0 {
		t.Fatalf("unexpected failures: %v", rep.failed)
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	sesClient := &fakeSES{configSetExists: true, destinationExists: true}
	snsClient := &fakeSNS{topicExists: true, subscriptionExists: true}
	d := provisionDriver(sesClient, snsClient)

	if err := d.Provision(context.Background(), nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if sesClient.createConfigCalls != 0 || snsClient.createTopicCalls != 0 || snsClient.subscribeCalls != 0 {
		t.Fatalf("existing resources must not be recreated: %+v %+v", sesClient, snsClient)
	}
	// The destination is always refreshed so the routed event-type set
	// tracks the enabled one.
	if sesClient.updateDestCalls != 1 {
		t.Fatalf("destination updates = %d, want 1", sesClient.updateDestCalls)
	}
	if sesClient.createDestCalls != 0 {
		t.Fatalf("destination creates = %d, want 0", sesClient.createDestCalls)
	}

	// Second run skips the configuration set existence probe via the
	// cached confirmation.
	probes := sesClient.getConfigCalls
	if err := d.Provision(context.Background(), nil); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if sesClient.getConfigCalls != probes {
		t.Fatalf("cached configuration set must skip the probe")
	}
}

func TestProvisionPendingSubscriptionFallsBackToTopicPolicy(t *testing.T) {
	sesClient := &fakeSES{configSetExists: true}
	snsClient := &fakeSNS{topicExists: true, pendingArn: "pending confirmation"}
	d := provisionDriver(sesClient, snsClient)
	rep := &recordingReporter{}

	if err := d.Provision(context.Background(), rep); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if snsClient.setSubAttrCalls != 0 {
		t.Fatalf("pending subscription must not get subscription attributes")
	}
	if snsClient.setTopicAttrCalls != 1 {
		t.Fatalf("topic attribute updates = %d, want 1", snsClient.setTopicAttrCalls)
	}
	if snsClient.lastTopicAttrName != "DeliveryPolicy" {
		t.Fatalf("topic attribute = %q", snsClient.lastTopicAttrName)
	}
}

func TestProvisionStepFailureAborts(t *testing.T) {
	sesClient := &fakeSES{getConfigErr: errors.New("throttled")}
	snsClient := &fakeSNS{}
	d := provisionDriver(sesClient, snsClient)
	rep := &recordingReporter{}

	err := d.Provision(context.Background(), rep)
	var stepErr *track.ProvisioningStepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want ProvisioningStepError", err)
	}
	if stepErr.Step != "configuration-set" {
		t.Fatalf("failed step = %q", stepErr.Step)
	}
	if snsClient.createTopicCalls != 0 || snsClient.subscribeCalls != 0 {
		t.Fatalf("later steps must not run after a failure")
	}
	if len(rep.failed) != 1 || rep.failed[0] != "configuration-set" {
		t.Fatalf("reporter failures = %v", rep.failed)
	}
}

func TestMatchingEventTypes(t *testing.T) {
	d := NewWithClients(Options{
		TrackingEvents: []string{"delivered", "hard_bounced", "soft_bounced", "clicked", "bogus"},
	}, nil, nil)
	got := d.matchingEventTypes()
	want := []sestypes.EventType{sestypes.EventTypeDelivery, sestypes.EventTypeBounce, sestypes.EventTypeClick}
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}

	defaults := NewWithClients(Options{}, nil, nil).matchingEventTypes()
	if len(defaults) != 3 {
		t.Fatalf("default event types = %v", defaults)
	}
}

func TestRemoveFromSuppressionList(t *testing.T) {
	sesClient := &fakeSES{}
	d := provisionDriver(sesClient, &fakeSNS{})
	if err := d.RemoveFromSuppressionList(context.Background(), "user@example.test"); err != nil {
		t.Fatalf("RemoveFromSuppressionList: %v", err)
	}

	sesClient.deleteSuppressedErr = &sestypes.NotFoundException{}
	if err := d.RemoveFromSuppressionList(context.Background(), "user@example.test"); !errors.Is(err, track.ErrNotSuppressed) {
		t.Fatalf("err = %v, want ErrNotSuppressed", err)
	}

	sesClient.deleteSuppressedErr = errors.New("throttled")
	err := d.RemoveFromSuppressionList(context.Background(), "user@example.test")
	var transport *track.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestRepairSendResources(t *testing.T) {
	sesClient := &fakeSES{}
	d := provisionDriver(sesClient, &fakeSNS{})
	if err := d.RepairSendResources(context.Background()); err != nil {
		t.Fatalf("RepairSendResources: %v", err)
	}
	if sesClient.createConfigCalls != 1 {
		t.Fatalf("configuration set creates = %d, want 1", sesClient.createConfigCalls)
	}
}
