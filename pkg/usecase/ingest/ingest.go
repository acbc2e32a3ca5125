package ingest

import (
	"context"
	"errors"

	"github.com/m-mizutani/emoshelf/pkg/classify"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/emoshelf/pkg/policy"
	"github.com/m-mizutani/emoshelf/pkg/utils/imaging"
	"github.com/m-mizutani/emoshelf/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Ingest runs req through download, normalization, labeling, threshold, policy and
// admission. It never returns an error; every failure is reported in the result.
func (u *UseCase) Ingest(ctx context.Context, req *model.IngestionRequest) *model.IngestionResult {
	if req == nil {
		req = &model.IngestionRequest{}
	}
	if req.ID == "" {
		req.ID = model.NewIngestionID()
	}

	ctx = logging.WithAttrs(ctx, "ingestion_id", req.ID, "source", req.Source)
	logger := logging.From(ctx)

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	result := u.run(ctx, req)
	result.ID = req.ID

	if result.Admitted() {
		logger.Info("ingestion admitted",
			"category", result.Category,
			"confidence", result.Confidence,
			"key", result.Reference.Key,
			"duplicate", result.Duplicate)
	} else if result.Reason.Soft() {
		logger.Info("ingestion rejected",
			"reason", result.Reason,
			"category", result.Category,
			"confidence", result.Confidence,
			"detail", result.Detail)
	} else {
		logger.Warn("ingestion failed",
			"reason", result.Reason,
			"detail", result.Detail,
			"error", result.Err)
	}
	return result
}

func reject(reason model.RejectReason, err error) *model.IngestionResult {
	return &model.IngestionResult{
		Status: model.IngestionRejected,
		Reason: reason,
		Err:    err,
	}
}

func (u *UseCase) run(ctx context.Context, req *model.IngestionRequest) *model.IngestionResult {
	if !req.HasMedia() {
		return reject(model.RejectNoMedia, nil)
	}

	data := req.Data
	if len(data) == 0 {
		fetched, err := u.fetcher.Fetch(ctx, req.Locator)
		if err != nil {
			r := reject(model.RejectDownloadFailed, err)
			r.Detail = req.Locator
			return r
		}
		data = fetched
	}

	format, err := imaging.Validate(data)
	if err != nil {
		return reject(model.RejectUnsupportedFormat, err)
	}

	if u.normalize {
		normalized, normalizedFormat, err := imaging.Normalize(data, u.imaging)
		switch {
		case errors.Is(err, imaging.ErrUnsupportedFormat):
			return reject(model.RejectUnsupportedFormat, err)
		case err != nil:
			logging.From(ctx).Warn("re-encoding failed, storing original", "error", err, "format", format)
		default:
			data, format = normalized, normalizedFormat
		}
	}

	classification, r := u.label(ctx, req, data)
	if r != nil {
		return r
	}
	category := classification.Category

	if classification.Confidence < u.threshold {
		return &model.IngestionResult{
			Status:     model.IngestionRejected,
			Reason:     model.RejectLowConfidence,
			Category:   category,
			Confidence: classification.Confidence,
		}
	}

	if u.policy != nil {
		input := policy.NewInput(req, category, classification, req.Label != "", format, len(data))
		decision, err := u.policy.Evaluate(ctx, input)
		if err != nil {
			r := reject(model.RejectPolicyDenied, err)
			r.Category, r.Confidence = category, classification.Confidence
			return r
		}
		if !decision.Allow {
			return &model.IngestionResult{
				Status:     model.IngestionRejected,
				Reason:     model.RejectPolicyDenied,
				Category:   category,
				Confidence: classification.Confidence,
				Detail:     decision.Reason,
			}
		}
	}

	ref, duplicate, err := u.store.Admit(ctx, category, data, format, req.Source)
	if err != nil {
		reason := model.RejectStoreFailed
		if errors.Is(err, model.ErrUnknownCategory) {
			reason = model.RejectUnknownCategory
		}
		r := reject(reason, err)
		r.Category, r.Confidence, r.Detail = category, classification.Confidence, string(category)
		return r
	}

	return &model.IngestionResult{
		Status:     model.IngestionAdmitted,
		Category:   category,
		Confidence: classification.Confidence,
		Reference:  ref,
		Duplicate:  duplicate,
	}
}

// label resolves an explicit label or asks the classifier
func (u *UseCase) label(ctx context.Context, req *model.IngestionRequest, data []byte) (*model.ClassificationResult, *model.IngestionResult) {
	if req.Label != "" {
		category, ok := u.taxonomy.Resolve(req.Label)
		if !ok {
			r := reject(model.RejectUnknownCategory,
				goerr.Wrap(model.ErrUnknownCategory, "label is not in taxonomy", goerr.V("label", req.Label)))
			r.Detail = req.Label
			return nil, r
		}
		return &model.ClassificationResult{
			Category:   category,
			Confidence: 1.0,
			Scored:     true,
			Raw:        req.Label,
		}, nil
	}

	result, err := u.classifier.ClassifyImage(ctx, data)
	if err != nil {
		if errors.Is(err, classify.ErrUnrecognizedLabel) {
			return nil, reject(model.RejectUnrecognizedLabel, err)
		}
		return nil, reject(model.RejectClassificationFailed, err)
	}
	return result, nil
}
