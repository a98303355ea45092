package ses

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"mailwatch/internal/event"
	"mailwatch/internal/track"
)

// Narrow views over the AWS clients, limited to the calls the workflow
// makes; tests substitute recording fakes.

type sesAPI interface {
	GetConfigurationSet(ctx context.Context, in *sesv2.GetConfigurationSetInput, opts ...func(*sesv2.Options)) (*sesv2.GetConfigurationSetOutput, error)
	CreateConfigurationSet(ctx context.Context, in *sesv2.CreateConfigurationSetInput, opts ...func(*sesv2.Options)) (*sesv2.CreateConfigurationSetOutput, error)
	GetConfigurationSetEventDestinations(ctx context.Context, in *sesv2.GetConfigurationSetEventDestinationsInput, opts ...func(*sesv2.Options)) (*sesv2.GetConfigurationSetEventDestinationsOutput, error)
	CreateConfigurationSetEventDestination(ctx context.Context, in *sesv2.CreateConfigurationSetEventDestinationInput, opts ...func(*sesv2.Options)) (*sesv2.CreateConfigurationSetEventDestinationOutput, error)
	UpdateConfigurationSetEventDestination(ctx context.Context, in *sesv2.UpdateConfigurationSetEventDestinationInput, opts ...func(*sesv2.Options)) (*sesv2.UpdateConfigurationSetEventDestinationOutput, error)
	DeleteSuppressedDestination(ctx context.Context, in *sesv2.DeleteSuppressedDestinationInput, opts ...func(*sesv2.Options)) (*sesv2.DeleteSuppressedDestinationOutput, error)
}

type snsAPI interface {
	ListTopics(ctx context.Context, in *sns.ListTopicsInput, opts ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	CreateTopic(ctx context.Context, in *sns.CreateTopicInput, opts ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, in *sns.ListSubscriptionsByTopicInput, opts ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, opts ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	SetSubscriptionAttributes(ctx context.Context, in *sns.SetSubscriptionAttributesInput, opts ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error)
	SetTopicAttributes(ctx context.Context, in *sns.SetTopicAttributesInput, opts ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error)
}

func newAWSClients(ctx context.Context, opts Options) (sesAPI, snsAPI, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, err
	}
	return sesv2.NewFromConfig(cfg), sns.NewFromConfig(cfg), nil
}

const (
	stepConfigurationSet = "configuration-set"
	stepTopic            = "notification-topic"
	stepSubscription     = "topic-subscription"
	stepEventDestination = "event-destination"
)

// Retry the delivery a few times before SNS gives up on the endpoint.
const topicDeliveryPolicy = `{"healthyRetryPolicy":{"numRetries":5,"minDelayTarget":5,"maxDelayTarget":60,"backoffFunction":"exponential"}}`

// Provision runs the ordered resource workflow: configuration set,
// notification topic, topic subscription, event destination. Each step
// confirms existence or creates, tolerating already-exists races. The
// first unrecoverable failure aborts the remaining steps; completed
// resources are safe to leave in place, so there is no rollback.
func (d *Driver) Provision(ctx context.Context, rep track.Reporter) error {
	fail := func(step string, err error) error {
		if rep != nil {
			rep.Failed(step, err)
		}
		return &track.ProvisioningStepError{Step: step, Err: err}
	}
	progress := func(step, message string) {
		if rep != nil {
			rep.Progress(step, message)
		}
	}

	created, err := d.ensureConfigurationSet(ctx)
	if err != nil {
		return fail(stepConfigurationSet, err)
	}
	progress(stepConfigurationSet, existsOrCreated(d.configurationSetName(), created))

	topicArn, created, err := d.ensureTopic(ctx)
	if err != nil {
		return fail(stepTopic, err)
	}
	progress(stepTopic, existsOrCreated(topicArn, created))

	if err := d.ensureSubscription(ctx, topicArn, progress); err != nil {
		return fail(stepSubscription, err)
	}

	updated, err := d.ensureEventDestination(ctx, topicArn)
	if err != nil {
		return fail(stepEventDestination, err)
	}
	if updated {
		progress(stepEventDestination, d.eventDestinationName()+" updated to enabled event types")
	} else {
		progress(stepEventDestination, d.eventDestinationName()+" created")
	}
	return nil
}

// RepairSendResources recreates the send-side resource whose absence
// fails outbound sends, used by the bounded send retry.
func (d *Driver) RepairSendResources(ctx context.Context) error {
	_, err := d.ensureConfigurationSet(ctx)
	return err
}

func (d *Driver) ensureConfigurationSet(ctx context.Context) (created bool, err error) {
	if d.configSetKnown.Load() {
		return false, nil
	}
	name := d.configurationSetName()
	_, err = d.ses.GetConfigurationSet(ctx, &sesv2.GetConfigurationSetInput{
		ConfigurationSetName: aws.String(name),
	})
	if err == nil {
		d.configSetKnown.Store(true)
		return false, nil
	}
	var notFound *sestypes.NotFoundException
	if !errors.As(err, &notFound) {
		return false, &track.TransportError{Provider: d.Name(), Op: "GetConfigurationSet", Err: err}
	}
	_, err = d.ses.CreateConfigurationSet(ctx, &sesv2.CreateConfigurationSetInput{
		ConfigurationSetName: aws.String(name),
	})
	if err != nil {
		var exists *sestypes.AlreadyExistsException
		if !errors.As(err, &exists) {
			return false, &track.TransportError{Provider: d.Name(), Op: "CreateConfigurationSet", Err: err}
		}
		d.configSetKnown.Store(true)
		return false, nil
	}
	d.configSetKnown.Store(true)
	return true, nil
}

func (d *Driver) ensureTopic(ctx context.Context) (arn string, created bool, err error) {
	arn, err = d.findTopicArn(ctx)
	if err != nil {
		return "", false, err
	}
	if arn != "" {
		return arn, false, nil
	}
	// CreateTopic is idempotent on name, so a concurrent create simply
	// returns the same ARN.
	out, err := d.sns.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(d.topicName())})
	if err != nil {
		return "", false, &track.TransportError{Provider: d.Name(), Op: "CreateTopic", Err: err}
	}
	return aws.ToString(out.TopicArn), true, nil
}

func (d *Driver) findTopicArn(ctx context.Context) (string, error) {
	suffix := ":" + d.topicName()
	var next *string
	for {
		out, err := d.sns.ListTopics(ctx, &sns.ListTopicsInput{NextToken: next})
		if err != nil {
			return "", &track.TransportError{Provider: d.Name(), Op: "ListTopics", Err: err}
		}
		for _, topic := range out.Topics {
			if strings.HasSuffix(aws.ToString(topic.TopicArn), suffix) {
				return aws.ToString(topic.TopicArn), nil
			}
		}
		if out.NextToken == nil {
			return "", nil
		}
		next = out.NextToken
	}
}

func (d *Driver) ensureSubscription(ctx context.Context, topicArn string, progress func(step, message string)) error {
	subscriptionArn, found, err := d.findSubscriptionArn(ctx, topicArn)
	if err != nil {
		return err
	}
	if !found {
		out, err := d.sns.Subscribe(ctx, &sns.SubscribeInput{
			TopicArn:              aws.String(topicArn),
			Protocol:              aws.String("https"),
			Endpoint:              aws.String(d.opts.WebhookURL),
			ReturnSubscriptionArn: true,
		})
		if err != nil {
			return &track.TransportError{Provider: d.Name(), Op: "Subscribe", Err: err}
		}
		subscriptionArn = aws.ToString(out.SubscriptionArn)
		progress(stepSubscription, "subscription created for "+d.opts.WebhookURL)
		// Fixed convergence delay before attribute updates; the one
		// intentional blocking point in the workflow.
		sleepCtx(ctx, d.opts.SubscriptionWait)
	}

	if isConfirmedSubscriptionArn(subscriptionArn) {
		_, err = d.sns.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
			SubscriptionArn: aws.String(subscriptionArn),
			AttributeName:   aws.String("DeliveryPolicy"),
			AttributeValue:  aws.String(topicDeliveryPolicy),
		})
		if err != nil {
			return &track.TransportError{Provider: d.Name(), Op: "SetSubscriptionAttributes", Err: err}
		}
		progress(stepSubscription, "subscription confirmed, delivery policy applied")
		return nil
	}

	// Pending confirmation is a continuing success sub-state: the
	// endpoint has not confirmed yet, so the delivery policy is applied
	// through the topic reference instead of the subscription's.
	_, err = d.sns.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(topicArn),
		AttributeName:  aws.String("DeliveryPolicy"),
		AttributeValue: aws.String(topicDeliveryPolicy),
	})
	if err != nil {
		return &track.TransportError{Provider: d.Name(), Op: "SetTopicAttributes", Err: err}
	}
	progress(stepSubscription, "subscription pending confirmation, delivery policy applied to topic")
	return nil
}

func (d *Driver) findSubscriptionArn(ctx context.Context, topicArn string) (arn string, found bool, err error) {
	var next *string
	for {
		out, err := d.sns.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(topicArn),
			NextToken: next,
		})
		if err != nil {
			return "", false, &track.TransportError{Provider: d.Name(), Op: "ListSubscriptionsByTopic", Err: err}
		}
		for _, sub := range out.Subscriptions {
			if aws.ToString(sub.Protocol) == "https" && aws.ToString(sub.Endpoint) == d.opts.WebhookURL {
				return aws.ToString(sub.SubscriptionArn), true, nil
			}
		}
		if out.NextToken == nil {
			return "", false, nil
		}
		next = out.NextToken
	}
}

func isConfirmedSubscriptionArn(arn string) bool {
	return strings.HasPrefix(strings.TrimSpace(arn), "arn:")
}

func (d *Driver) ensureEventDestination(ctx context.Context, topicArn string) (updated bool, err error) {
	name := d.eventDestinationName()
	definition := sestypes.EventDestinationDefinition{
		Enabled:            true,
		MatchingEventTypes: d.matchingEventTypes(),
		SnsDestination:     &sestypes.SnsDestination{TopicArn: aws.String(topicArn)},
	}

	out, err := d.ses.GetConfigurationSetEventDestinations(ctx, &sesv2.GetConfigurationSetEventDestinationsInput{
		ConfigurationSetName: aws.String(d.configurationSetName()),
	})
	if err != nil {
		return false, &track.TransportError{Provider: d.Name(), Op: "GetConfigurationSetEventDestinations", Err: err}
	}
	for _, dest := range out.EventDestinations {
		if aws.ToString(dest.Name) != name {
			continue
		}
		// Present: update in place so the routed event-type set always
		// matches the currently enabled one.
		_, err = d.ses.UpdateConfigurationSetEventDestination(ctx, &sesv2.UpdateConfigurationSetEventDestinationInput{
			ConfigurationSetName: aws.String(d.configurationSetName()),
			EventDestinationName: aws.String(name),
			EventDestination:     &definition,
		})
		if err != nil {
			return false, &track.TransportError{Provider: d.Name(), Op: "UpdateConfigurationSetEventDestination", Err: err}
		}
		return true, nil
	}

	_, err = d.ses.CreateConfigurationSetEventDestination(ctx, &sesv2.CreateConfigurationSetEventDestinationInput{
		ConfigurationSetName: aws.String(d.configurationSetName()),
		EventDestinationName: aws.String(name),
		EventDestination:     &definition,
	})
	if err != nil {
		var exists *sestypes.AlreadyExistsException
		if errors.As(err, &exists) {
			return false, nil
		}
		return false, &track.TransportError{Provider: d.Name(), Op: "CreateConfigurationSetEventDestination", Err: err}
	}
	return false, nil
}

func (d *Driver) matchingEventTypes() []sestypes.EventType {
	byKind := map[event.Kind]sestypes.EventType{
		event.KindDelivered:    sestypes.EventTypeDelivery,
		event.KindOpened:       sestypes.EventTypeOpen,
		event.KindClicked:      sestypes.EventTypeClick,
		event.KindHardBounced:  sestypes.EventTypeBounce,
		event.KindSoftBounced:  sestypes.EventTypeBounce,
		event.KindComplained:   sestypes.EventTypeComplaint,
		event.KindUnsubscribed: sestypes.EventTypeSubscription,
	}
	seen := map[sestypes.EventType]struct{}{}
	out := make([]sestypes.EventType, 0, len(d.opts.TrackingEvents))
	for _, enabled := range d.opts.TrackingEvents {
		t, ok := byKind[event.Kind(strings.TrimSpace(enabled))]
		if !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		out = []sestypes.EventType{sestypes.EventTypeBounce, sestypes.EventTypeComplaint, sestypes.EventTypeDelivery}
	}
	return out
}

// RemoveFromSuppressionList deletes the address from the account-level
// suppression list. Absence is reported distinctly from API failure.
func (d *Driver) RemoveFromSuppressionList(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return &track.TransportError{Provider: d.Name(), Op: "DeleteSuppressedDestination", Err: errors.New("empty address")}
	}
	_, err := d.ses.DeleteSuppressedDestination(ctx, &sesv2.DeleteSuppressedDestinationInput{
		EmailAddress: aws.String(address),
	})
	if err != nil {
		var notFound *sestypes.NotFoundException
		if errors.As(err, &notFound) {
			return track.ErrNotSuppressed
		}
		return &track.TransportError{Provider: d.Name(), Op: "DeleteSuppressedDestination", Err: err}
	}
	return nil
}

func existsOrCreated(name string, created bool) string {
	if created {
		return name + " created"
	}
	return name + " already exists"
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Compile-time interface checks.
var (
	_ track.Driver     = (*Driver)(nil)
	_ track.Handshaker = (*Driver)(nil)
)
