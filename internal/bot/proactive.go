package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/rhythm"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
)

const (
	// selfReplyChance is the probability of chaining an afterthought reply
	// under a just-published post.
	selfReplyChance = 0.30

	// imageCooldown is the minimum spacing between image posts per persona.
	imageCooldown = 6 * time.Hour
)

// proactiveState flows between the proactive steps.
type proactiveState struct {
	Trigger api.Trigger

	Schedule     rhythm.ScheduleState
	RhythmReason string
	Memory       persistence.BotMemory

	Draft struct {
		Text   string
		Thread []string
		Topic  string
		Digest string
	}
	Media []byte

	// PostID is the just-published root; LastPostID is the thread tail (or
	// the root again for single posts), the anchor for the self-reply.
	PostID     string
	LastPostID string

	Actions []api.ActionTaken
}

func (b *Bot) proactiveDefinition() api.RunDefinition {
	return api.RunDefinition{
		Mode: api.ModeProactive,
		Steps: []api.StepDefinition{
			{Name: "load-state", Fn: b.proactiveLoadState},
			{Name: "decide-rhythm", Fn: b.proactiveDecideRhythm},
			{Name: "generate", Fn: b.proactiveGenerate},
			{Name: "maybe-image", Fn: b.proactiveMaybeImage},
			{Name: "publish", Fn: b.proactivePublish, Retry: &api.RetryPolicy{
				MaxAttempts:    2,
				InitialBackoff: 2 * time.Second,
			}},
			{Name: "self-reply", Fn: b.proactiveSelfReply},
			{Name: "update-memory", Fn: b.proactiveUpdateMemory},
		},
	}
}

func (b *Bot) proactiveLoadState(ctx context.Context, input any) (any, error) {
	trig, err := asTrigger(input)
	if err != nil {
		return nil, err
	}
	if _, err := b.persona(trig.PersonaID); err != nil {
		return nil, err
	}

	st := proactiveState{Trigger: trig}

	st.Schedule, err = b.cfg.Store.GetScheduleState(ctx, trig.PersonaID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load schedule state: %w", err)
	}

	st.Memory, err = b.cfg.Store.GetMemory(ctx, trig.PersonaID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	return st, nil
}

// proactiveDecideRhythm persists the decision's schedule state whether or not
// the persona posts: mood rolls and burst bookkeeping must survive denials.
func (b *Bot) proactiveDecideRhythm(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	decision := b.decide(b.cfg.Now(), st.Schedule, p.RhythmParams())
	if err := b.cfg.Store.SaveScheduleState(ctx, p.ID, decision.State); err != nil {
		return nil, fmt.Errorf("save schedule state: %w", err)
	}
	if !decision.ShouldPost {
		return nil, api.NewSkip(decision.Reason)
	}

	st.Schedule = decision.State
	st.RhythmReason = decision.Reason
	return st, nil
}

func (b *Bot) proactiveGenerate(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	// Recent own posts keep the generator from repeating itself. Fetch
	// failures here are not worth failing the run over.
	var recent []string
	if items, err := b.cfg.Platform(p.ID).RecentOwnContent(ctx, 5); err == nil {
		for _, it := range items {
			recent = append(recent, it.Text)
		}
	} else {
		b.cfg.Logger.Warn("recent content fetch failed",
			zap.String("persona_id", p.ID), zap.Error(err))
	}

	// Expressive personas thread more often.
	threadChance := 0.10 + 0.25*p.Traits.Expressiveness
	draft, err := b.cfg.Generator.GeneratePost(ctx, textgen.PostRequest{
		PersonaID:   p.ID,
		Handle:      p.Handle,
		Bio:         p.Bio,
		Topics:      p.Topics,
		Mood:        st.Schedule.DailyMood.Multiplier,
		Digest:      st.Memory.Digest,
		Reflections: st.Memory.Reflections,
		Recent:      recent,
		Thread:      b.float64() < threadChance,
	})
	if err != nil {
		return nil, fmt.Errorf("generate post: %w", err)
	}
	if strings.TrimSpace(draft.Text) == "" {
		return nil, errors.New("generate post: empty draft")
	}
	if b.cfg.Policy != nil {
		for _, text := range append([]string{draft.Text}, draft.Thread...) {
			if b.cfg.Policy.IsViolating(text) {
				return nil, api.NewSkip("policy violation (outbound)")
			}
		}
	}

	st.Draft.Text = draft.Text
	st.Draft.Thread = draft.Thread
	st.Draft.Topic = draft.TopicTag
	st.Draft.Digest = draft.Digest
	return st, nil
}

// proactiveMaybeImage attaches an illustrative image, gated by an
// expressiveness-weighted chance and the per-persona image cooldown.
// Image generation is strictly optional: any failure means text-only.
func (b *Bot) proactiveMaybeImage(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	chance := 0.10 + 0.20*p.Traits.Expressiveness
	if b.float64() >= chance {
		return st, nil
	}

	now := b.cfg.Now()
	n, err := b.cfg.Store.CountActivity(ctx, p.ID, []string{"image"}, now.Add(-imageCooldown))
	if err != nil || n > 0 {
		if err != nil {
			b.cfg.Logger.Warn("image cooldown check failed",
				zap.String("persona_id", p.ID), zap.Error(err))
		}
		return st, nil
	}

	media, err := b.cfg.Generator.GenerateImage(ctx, p.ID, st.Draft.Text)
	if err != nil {
		b.cfg.Logger.Warn("image generation failed",
			zap.String("persona_id", p.ID), zap.Error(err))
		return st, nil
	}
	st.Media = media
	return st, nil
}

func (b *Bot) proactivePublish(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}
	if err := b.checkQuota(ctx, p.ID); err != nil {
		return nil, err
	}

	platform := b.cfg.Platform(p.ID)
	post, err := platform.Publish(ctx, st.Draft.Text, st.Media)
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	b.governor(p.ID).RecordPost(ctx)

	now := b.cfg.Now()
	st.Schedule = rhythm.RecordPost(st.Schedule, now, p.UTCOffset)
	if err := b.cfg.Store.SaveScheduleState(ctx, p.ID, st.Schedule); err != nil {
		b.cfg.Logger.Warn("save schedule state failed",
			zap.String("persona_id", p.ID), zap.Error(err))
	}

	st.Actions = append(st.Actions, api.ActionTaken{
		Type:      "post",
		ContentID: post.ID,
		Detail:    st.RhythmReason,
	})
	b.logActivity(ctx, persistence.ActivityEntry{
		PersonaID: p.ID,
		Type:      "post",
		Detail:    st.Draft.Topic,
		Ref:       post.ID,
	})
	if len(st.Media) > 0 {
		b.logActivity(ctx, persistence.ActivityEntry{
			PersonaID: p.ID,
			Type:      "image",
			Ref:       post.ID,
		})
	}

	// Thread continuations are chained self-replies. Each one is quota-gated
	// independently; a denial mid-thread leaves the thread truncated rather
	// than over-quota.
	prevID := post.ID
	for _, part := range st.Draft.Thread {
		if ok, reason := b.governor(p.ID).CanPost(ctx); !ok {
			b.cfg.Logger.Info("thread truncated",
				zap.String("persona_id", p.ID), zap.String("reason", reason))
			break
		}
		reply, err := platform.Reply(ctx, part, prevID)
		if err != nil {
			b.cfg.Logger.Warn("thread continuation failed",
				zap.String("persona_id", p.ID), zap.Error(err))
			break
		}
		b.governor(p.ID).RecordPost(ctx)
		st.Actions = append(st.Actions, api.ActionTaken{
			Type:      "reply",
			ContentID: reply.ID,
			TargetID:  prevID,
			Detail:    "thread continuation",
		})
		b.logActivity(ctx, persistence.ActivityEntry{
			PersonaID: p.ID,
			Type:      "reply",
			Detail:    "thread continuation",
			Ref:       post.ID,
		})
		prevID = reply.ID
	}
	st.PostID = post.ID
	st.LastPostID = prevID
	return st, nil
}

// proactiveSelfReply sometimes chains one more reply under the fresh post, an
// afterthought in the persona's own thread. Fixed 30% chance; the reply is
// quota-gated and policy-gated like any other mutation, but nothing in here
// fails the run: the post is already out.
func (b *Bot) proactiveSelfReply(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}
	if st.LastPostID == "" || b.float64() >= selfReplyChance {
		return st, nil
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	thread := append([]string{st.Draft.Text}, st.Draft.Thread...)
	decision, err := b.cfg.Generator.GenerateReply(ctx, textgen.ReplyRequest{
		PersonaID: p.ID,
		Handle:    p.Handle,
		Bio:       p.Bio,
		Thread:    thread,
		Inbound:   thread[len(thread)-1],
		Digest:    st.Memory.Digest,
	})
	if err != nil {
		b.cfg.Logger.Warn("self-reply generation failed",
			zap.String("persona_id", p.ID), zap.Error(err))
		return st, nil
	}
	if !decision.Engage || strings.TrimSpace(decision.Text) == "" {
		return st, nil
	}
	if b.cfg.Policy != nil && b.cfg.Policy.IsViolating(decision.Text) {
		b.cfg.Logger.Info("self-reply dropped by policy",
			zap.String("persona_id", p.ID))
		return st, nil
	}
	if ok, reason := b.governor(p.ID).CanPost(ctx); !ok {
		b.cfg.Logger.Info("self-reply stopped by quota",
			zap.String("persona_id", p.ID), zap.String("reason", reason))
		return st, nil
	}

	reply, err := b.cfg.Platform(p.ID).Reply(ctx, decision.Text, st.LastPostID)
	if err != nil {
		b.cfg.Logger.Warn("self-reply publish failed",
			zap.String("persona_id", p.ID), zap.Error(err))
		return st, nil
	}
	b.governor(p.ID).RecordPost(ctx)
	st.Actions = append(st.Actions, api.ActionTaken{
		Type:      "reply",
		ContentID: reply.ID,
		TargetID:  st.LastPostID,
		Detail:    "self-reply",
	})
	b.logActivity(ctx, persistence.ActivityEntry{
		PersonaID: p.ID,
		Type:      "reply",
		Detail:    "self-reply",
		Ref:       st.PostID,
	})
	return st, nil
}

func (b *Bot) proactiveUpdateMemory(ctx context.Context, input any) (any, error) {
	st, err := stateAs[proactiveState](input)
	if err != nil {
		return nil, err
	}

	if st.Draft.Digest != "" {
		st.Memory.Digest = st.Draft.Digest
	}
	if st.Draft.Topic != "" {
		st.Memory.Reflections = append(st.Memory.Reflections,
			fmt.Sprintf("posted about %s", st.Draft.Topic))
		if len(st.Memory.Reflections) > 20 {
			st.Memory.Reflections = st.Memory.Reflections[len(st.Memory.Reflections)-20:]
		}
	}
	st.Memory.UpdatedAt = b.cfg.Now()
	if err := b.cfg.Store.SaveMemory(ctx, st.Trigger.PersonaID, st.Memory); err != nil {
		return nil, fmt.Errorf("save memory: %w", err)
	}

	return api.RunResult{
		PersonaID: st.Trigger.PersonaID,
		Mode:      api.ModeProactive,
		Actions:   st.Actions,
	}, nil
}
