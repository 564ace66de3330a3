// Package recovery gates node startup on the compatibility of stored
// checkpoints and hands them back to the engine for resumption.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/flowstore/internal/checkpoint"
	"github.com/roach88/flowstore/internal/store"
)

const tracerName = "github.com/roach88/flowstore/internal/recovery"

// Policy is what the running software accepts.
type Policy struct {
	// PlatformVersion is the running platform version and the upper bound
	// of the accepted range.
	PlatformVersion int

	// MinPlatformVersion is the lower bound of the accepted range. Zero
	// means PlatformVersion, i.e. only an exact match is accepted.
	MinPlatformVersion int

	// InstalledApps maps application name to the hash of the installed
	// build.
	InstalledApps map[string]string
}

// DefaultPolicy accepts checkpoints written by exactly this platform
// version and no application sub-flows.
func DefaultPolicy() Policy {
	return Policy{PlatformVersion: checkpoint.PlatformVersion}
}

func (p Policy) minVersion() int {
	if p.MinPlatformVersion == 0 {
		return p.PlatformVersion
	}
	return p.MinPlatformVersion
}

func (p Policy) accepts(version int) bool {
	return version >= p.minVersion() && version <= p.PlatformVersion
}

// Range renders the accepted platform versions, "8" or "5..8".
func (p Policy) Range() string {
	if p.minVersion() == p.PlatformVersion {
		return fmt.Sprintf("%d", p.PlatformVersion)
	}
	return fmt.Sprintf("%d..%d", p.minVersion(), p.PlatformVersion)
}

// StateDecoder extracts the sub-flow stack from serialized checkpoint
// state. codec.Codec implements it.
type StateDecoder interface {
	SubFlows(state []byte) ([]checkpoint.SubFlow, error)
}

// Report summarizes a verification pass.
type Report struct {
	Checked      int               `json:"checked"`
	Incompatible []Incompatibility `json:"incompatible"`
}

// Verifier checks every stored checkpoint against a Policy. It only reads.
type Verifier struct {
	store   *store.CheckpointStore
	policy  Policy
	decoder StateDecoder
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithDecoder enables sub-flow checks using d. Without a decoder only the
// flow-level platform version is checked.
func WithDecoder(d StateDecoder) Option {
	return func(v *Verifier) {
		v.decoder = d
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// WithTracer sets the tracer. Default is the global otel tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(v *Verifier) {
		v.tracer = tracer
	}
}

// NewVerifier creates a verifier reading through st.
func NewVerifier(st *store.CheckpointStore, policy Policy, opts ...Option) *Verifier {
	v := &Verifier{
		store:  st,
		policy: policy,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks every stored checkpoint and collects every offence. If any
// checkpoint is incompatible the returned error is a
// CheckpointIncompatibleError listing all of them; the report is returned
// either way. Storage and integrity failures abort the pass.
func (v *Verifier) Verify(ctx context.Context, sess store.Session) (report Report, err error) {
	ctx, span := v.tracer.Start(ctx, "recovery.Verify",
		trace.WithAttributes(attribute.Int("platform.version", v.policy.PlatformVersion)))
	defer func() {
		span.SetAttributes(
			attribute.Int("checkpoint.checked", report.Checked),
			attribute.Int("checkpoint.incompatible", len(report.Incompatible)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	for e, err := range v.store.AllCheckpoints(ctx, sess) {
		if err != nil {
			return report, fmt.Errorf("verify checkpoints: %w", err)
		}
		report.Checked++
		report.Incompatible = append(report.Incompatible, v.Check(e)...)
	}

	if len(report.Incompatible) > 0 {
		for _, inc := range report.Incompatible {
			v.logger.Error("incompatible checkpoint",
				"run_id", inc.RunID,
				"flow_class", inc.FlowClass,
				"reason", inc.Reason,
				"detail", inc.Detail,
			)
		}
		return report, &CheckpointIncompatibleError{Flows: report.Incompatible}
	}

	v.logger.Info("checkpoints verified", "checked", report.Checked)
	return report, nil
}

// Check returns the offences of a single checkpoint, nil if it is
// compatible.
func (v *Verifier) Check(e store.Entry) []Incompatibility {
	var out []Incompatibility
	offence := func(flowClass string, reason Reason, detail string) {
		out = append(out, Incompatibility{RunID: e.RunID, FlowClass: flowClass, Reason: reason, Detail: detail})
	}

	if !v.policy.accepts(e.PlatformVersion) {
		offence(e.FlowName, ReasonPlatformVersion, fmt.Sprintf(
			"started under platform version %d, running accepts %s", e.PlatformVersion, v.policy.Range()))
	}

	if v.decoder == nil {
		return out
	}

	subFlows, err := v.decoder.SubFlows(e.Checkpoint.CheckpointState)
	if err != nil {
		offence(e.FlowName, ReasonUndecodable, err.Error())
		return out
	}

	for _, sf := range subFlows {
		switch sf.Version.Kind {
		case checkpoint.SubFlowCore:
			if !v.policy.accepts(sf.Version.PlatformVersion) {
				offence(sf.FlowClass, ReasonCoreSubFlowVersion, fmt.Sprintf(
					"entered under platform version %d, running accepts %s", sf.Version.PlatformVersion, v.policy.Range()))
			}
		case checkpoint.SubFlowApp:
			hash, ok := v.policy.InstalledApps[sf.Version.AppName]
			switch {
			case !ok:
				offence(sf.FlowClass, ReasonAppNotInstalled, fmt.Sprintf("app %q is not installed", sf.Version.AppName))
			case hash != sf.Version.AppHash:
				offence(sf.FlowClass, ReasonAppHashMismatch, fmt.Sprintf(
					"app %q was %s when the sub-flow started, installed is %s", sf.Version.AppName, sf.Version.AppHash, hash))
			}
		}
	}
	return out
}
