package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"socialqueue/internal/alert"
	"socialqueue/internal/constants"
	apperrors "socialqueue/internal/errors"
	"socialqueue/internal/metrics"
	"socialqueue/internal/models"
	"socialqueue/pkg/oauth1"
	"socialqueue/pkg/twitter"
	"socialqueue/pkg/twitter/types"

	"github.com/sirupsen/logrus"
)

// Channel publishes a thread to one social platform. Dispatch returns the
// thread's canonical link, or an *errors.AppError whose UserMessage is the
// failing segment's diagnostic.
type Channel interface {
	Name() models.Channel
	Dispatch(ctx context.Context, segments []models.Segment, creds models.Credentials) (string, error)
}

// TwitterAPI is the part of the Twitter client the channel uses.
type TwitterAPI interface {
	UploadAll(ctx context.Context, urls []string, token oauth1.Token) ([]string, error)
	PostStatus(ctx context.Context, update types.StatusUpdate, token oauth1.Token) (*types.Status, error)
	Permalink(handle, statusID string) string
}

// Twitter error codes with a dedicated message.
const (
	codeInvalidToken   = 89
	codeBadCredentials = 220
	codeEmptyStatus    = 170
	codeTooLong        = 186
	codeDuplicate      = 187
)

const (
	msgInvalidCredentials = "Invalid credentials. Try logging in through the roam/js/twitter page"
	msgTooLong            = "Tweet is too long. Make it shorter!"
	msgEmpty              = "Tweet failed to send because it was empty."
	msgDuplicate          = "Tweet failed to send because Twitter detected it was a duplicate."
	msgAttachmentsFailed  = "Some attachments failed to upload. "
	alertBodyPrefix       = "Scheduled Tweet while trying to upload attachments.\n\n"
)

// attachmentPattern matches inline image markers: ![alt](url).
var attachmentPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^\s)]*)\)`)

// ExtractAttachments strips attachment markers from text and returns the
// remaining content with the marker URLs in order of appearance.
func ExtractAttachments(text string) (string, []string) {
	var urls []string
	content := attachmentPattern.ReplaceAllStringFunc(text, func(marker string) string {
		match := attachmentPattern.FindStringSubmatch(marker)
		urls = append(urls, twitter.RewriteAttachmentURL(match[1]))
		return ""
	})
	return content, urls
}

// SegmentOutcome is the result of one segment within a dispatch.
type SegmentOutcome struct {
	Success bool
	Message string
	// StatusID is the posted status id. Empty unless Success.
	StatusID string
}

// threadState is the accumulator folded over a thread's segments.
type threadState struct {
	replyToID string
	failedAt  int
	failure   *apperrors.AppError
	outcomes  []SegmentOutcome
}

type TwitterChannelConfig struct {
	SupportEmail string
	AlertSubject string
}

// TwitterChannel posts threads as chains of replies.
type TwitterChannel struct {
	api    TwitterAPI
	alerts alert.Notifier
	cfg    TwitterChannelConfig
	logger *logrus.Logger
}

func NewTwitterChannel(api TwitterAPI, alerts alert.Notifier, cfg TwitterChannelConfig, logger *logrus.Logger) *TwitterChannel {
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = constants.DefaultSupportEmail
	}
	if cfg.AlertSubject == "" {
		cfg.AlertSubject = constants.DefaultAlertSubject
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &TwitterChannel{api: api, alerts: alerts, cfg: cfg, logger: logger}
}

func (c *TwitterChannel) Name() models.Channel {
	return models.ChannelTwitter
}

// Dispatch posts segments strictly in order, each one replying to the
// previous. After the first failure the remaining segments are skipped.
// Posts made before a failure stay published.
func (c *TwitterChannel) Dispatch(ctx context.Context, segments []models.Segment, creds models.Credentials) (string, error) {
	if len(segments) == 0 {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "thread has no segments").
			WithUserMessage("There is nothing to send.")
	}

	token := oauth1.Token{Token: creds.Token, Secret: creds.TokenSecret}
	state := threadState{failedAt: -1, outcomes: make([]SegmentOutcome, 0, len(segments))}
	for i, segment := range segments {
		state = c.step(ctx, state, i, segment, token)
	}

	if state.failedAt >= 0 {
		return "", state.failure
	}
	return state.outcomes[0].Message, nil
}

func (c *TwitterChannel) step(ctx context.Context, state threadState, index int, segment models.Segment, token oauth1.Token) threadState {
	if state.failedAt >= 0 {
		state.outcomes = append(state.outcomes, SegmentOutcome{
			Message: fmt.Sprintf("Skipped sending tweet due to failing to send tweet %d", state.failedAt),
		})
		return state
	}

	logger := c.logger.WithFields(logrus.Fields{
		LogFieldChannel:      models.ChannelTwitter,
		LogFieldSegmentIndex: index,
	})

	content, urls := ExtractAttachments(segment.Text)

	mediaIDs, uploadErr := c.uploadAttachments(ctx, urls, token, logger)
	if uploadErr != nil {
		return state.fail(index, uploadErr)
	}

	update := types.StatusUpdate{
		Status:            content,
		MediaIDs:          mediaIDs,
		InReplyToStatusID: state.replyToID,
	}
	status, err := c.api.PostStatus(ctx, update, token)
	if err != nil {
		appErr := mapPostError(err, c.cfg.SupportEmail)
		logger.WithFields(apperrors.Fields(appErr)).Warn("Failed to post segment")
		return state.fail(index, appErr)
	}

	metrics.IncrementCounter(metrics.SegmentsPostedTotal, map[string]string{"channel": string(models.ChannelTwitter)}, "Thread segments posted")
	logger.WithField(LogFieldStatusID, status.IDStr).Debug("Posted segment")

	state.replyToID = status.IDStr
	state.outcomes = append(state.outcomes, SegmentOutcome{
		Success:  true,
		Message:  c.api.Permalink(status.User.ScreenName, status.IDStr),
		StatusID: status.IDStr,
	})
	return state
}

func (s threadState) fail(index int, err *apperrors.AppError) threadState {
	s.failedAt = index
	s.failure = err.WithContext("segment_index", index)
	s.outcomes = append(s.outcomes, SegmentOutcome{Message: err.UserMessage})
	return s
}

// uploadAttachments uploads a segment's attachments. On failure it sends one
// alert and returns the segment's diagnostic.
func (c *TwitterChannel) uploadAttachments(ctx context.Context, urls []string, token oauth1.Token, logger *logrus.Entry) ([]string, *apperrors.AppError) {
	if len(urls) == 0 {
		return nil, nil
	}

	start := time.Now()
	ids, err := c.api.UploadAll(ctx, urls, token)
	if err == nil && len(ids) < len(urls) {
		err = fmt.Errorf("uploaded %d of %d attachments", len(ids), len(urls))
	}
	if err == nil {
		metrics.IncrementCounter(metrics.MediaUploadsTotal, map[string]string{"result": "success"}, "Attachment batches uploaded")
		logger.WithFields(logrus.Fields{
			LogFieldAttachments: len(urls),
			LogFieldDuration:    time.Since(start).Milliseconds(),
		}).Debug("Uploaded attachments")
		return ids, nil
	}

	metrics.IncrementCounter(metrics.MediaUploadsTotal, map[string]string{"result": "failure"}, "Attachment batches uploaded")
	logger.WithError(err).WithField(LogFieldAttachments, len(urls)).Error("Failed to upload attachments")
	c.sendUploadAlert(ctx, err, urls, logger)

	detail := fmt.Sprintf("Email %s for help!", c.cfg.SupportEmail)
	var uploadErr *twitter.UploadError
	if stderrors.As(err, &uploadErr) && uploadErr.ChannelMessage != "" {
		detail = uploadErr.ChannelMessage
	}
	return nil, apperrors.Wrap(err, apperrors.ErrCodeAttachmentUpload, "attachment upload failed").
		WithContext("attachment_count", len(urls)).
		WithUserMessage(msgAttachmentsFailed + detail)
}

type uploadAlert struct {
	Message        string   `json:"message"`
	AttachmentURLs []string `json:"attachmentUrls"`
}

func (c *TwitterChannel) sendUploadAlert(ctx context.Context, cause error, urls []string, logger *logrus.Entry) {
	if c.alerts == nil {
		return
	}
	message := cause.Error()
	var uploadErr *twitter.UploadError
	if stderrors.As(cause, &uploadErr) && uploadErr.ChannelMessage != "" {
		message = uploadErr.ChannelMessage
	}

	detail, err := json.MarshalIndent(uploadAlert{Message: message, AttachmentURLs: urls}, "", "    ")
	if err != nil {
		logger.WithError(err).Warn("Failed to encode alert")
		return
	}
	if err := c.alerts.Notify(ctx, c.cfg.AlertSubject, alertBodyPrefix+string(detail)); err != nil {
		logger.WithError(err).Warn("Failed to send upload alert")
		return
	}
	metrics.IncrementCounter(metrics.AlertsSentTotal, nil, "Operational alerts sent")
}

// mapPostError turns a failed status post into the taxonomy. Responses with
// an errors array map each code to a message, joined by newlines. Anything
// else is a transport failure reported verbatim.
func mapPostError(err error, supportEmail string) *apperrors.AppError {
	var apiErr *twitter.APIError
	if !stderrors.As(err, &apiErr) || len(apiErr.Errors) == 0 {
		statusCode := 0
		if apiErr != nil {
			statusCode = apiErr.StatusCode
		}
		return apperrors.NewUpstreamError("statuses/update", statusCode, err).
			WithUserMessage(err.Error())
	}

	codes := apiErr.Codes()
	messages := make([]string, len(codes))
	for i, code := range codes {
		messages[i] = ErrorCodeMessage(code, supportEmail)
	}

	return apperrors.Wrap(err, errorCodeClass(codes[0]), "channel rejected post").
		WithContext("channel_codes", codes).
		WithUserMessage(strings.Join(messages, "\n"))
}

// ErrorCodeMessage is the user-facing text for a Twitter error code.
func ErrorCodeMessage(code int, supportEmail string) string {
	switch code {
	case codeBadCredentials, codeInvalidToken:
		return msgInvalidCredentials
	case codeTooLong:
		return msgTooLong
	case codeEmptyStatus:
		return msgEmpty
	case codeDuplicate:
		return msgDuplicate
	default:
		return "Unknown error code (" + strconv.Itoa(code) + "). Email " + supportEmail + " for help!"
	}
}

func errorCodeClass(code int) apperrors.ErrorCode {
	switch code {
	case codeBadCredentials, codeInvalidToken:
		return apperrors.ErrCodeChannelAuth
	case codeTooLong, codeEmptyStatus, codeDuplicate:
		return apperrors.ErrCodeChannelRejection
	default:
		return apperrors.ErrCodeUnknownChannel
	}
}
