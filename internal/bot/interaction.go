package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
)

// followUpChance is the probability of scheduling the target persona to
// react to the interaction post a few minutes later.
const followUpChance = 0.20

// interactionState flows between the interaction steps.
type interactionState struct {
	Trigger api.Trigger

	TargetRecent []string
	PriorCount   int
	Message      string

	Actions []api.ActionTaken
}

func (b *Bot) interactionDefinition() api.RunDefinition {
	return api.RunDefinition{
		Mode: api.ModeInteraction,
		Steps: []api.StepDefinition{
			{Name: "load-personas", Fn: b.interactionLoadPersonas},
			{Name: "decide", Fn: b.interactionDecide},
			{Name: "publish", Fn: b.interactionPublish, Retry: &api.RetryPolicy{
				MaxAttempts:    2,
				InitialBackoff: 2 * time.Second,
			}},
		},
	}
}

func (b *Bot) interactionLoadPersonas(ctx context.Context, input any) (any, error) {
	trig, err := asTrigger(input)
	if err != nil {
		return nil, err
	}
	if _, err := b.persona(trig.PersonaID); err != nil {
		return nil, err
	}
	target, err := b.persona(trig.TargetPersonaID)
	if err != nil {
		return nil, fmt.Errorf("interaction target: %w", err)
	}
	if trig.PersonaID == trig.TargetPersonaID {
		return nil, errors.New("interaction target must be a different persona")
	}

	st := interactionState{Trigger: trig}

	rel, err := b.cfg.Store.GetRelationship(ctx, trig.PersonaID, target.ID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	st.PriorCount = rel.InteractionCount

	// The target's recent posts give the generator something to react to.
	// When the fetch fails the decision proceeds on a placeholder.
	if items, err := b.cfg.Platform(trig.PersonaID).AuthorFeed(ctx, target.Handle, 3); err == nil {
		for _, it := range items {
			st.TargetRecent = append(st.TargetRecent, it.Text)
		}
	} else {
		b.cfg.Logger.Warn("target feed fetch failed",
			zap.String("persona_id", trig.PersonaID),
			zap.String("target_id", target.ID),
			zap.Error(err))
		st.TargetRecent = []string{"(no recent posts)"}
	}
	return st, nil
}

func (b *Bot) interactionDecide(ctx context.Context, input any) (any, error) {
	st, err := stateAs[interactionState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}
	target, err := b.persona(st.Trigger.TargetPersonaID)
	if err != nil {
		return nil, err
	}

	decision, err := b.cfg.Generator.DecideInteraction(ctx, textgen.InteractionRequest{
		PersonaID:    p.ID,
		Handle:       p.Handle,
		Bio:          p.Bio,
		TargetID:     target.ID,
		TargetHandle: target.Handle,
		TargetBio:    target.Bio,
		TargetRecent: st.TargetRecent,
		PriorCount:   st.PriorCount,
	})
	if err != nil {
		return nil, fmt.Errorf("decide interaction: %w", err)
	}
	if !decision.Engage {
		reason := decision.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, api.NewSkip("declined: " + reason)
	}
	// Both sides of the exchange pass the policy gate: the target's recent
	// content and the opening message the persona is about to send.
	if b.cfg.Policy != nil {
		for _, text := range st.TargetRecent {
			if b.cfg.Policy.IsViolating(text) {
				return nil, api.NewSkip("policy violation (inbound)")
			}
		}
		if b.cfg.Policy.IsViolating(decision.Message) {
			return nil, api.NewSkip("policy violation (outbound)")
		}
	}

	// The post must mention the target so the platform routes it into the
	// target's notifications.
	msg := decision.Message
	mention := "@" + target.Handle
	if !strings.Contains(msg, mention) {
		msg = mention + " " + msg
	}
	st.Message = msg
	return st, nil
}

func (b *Bot) interactionPublish(ctx context.Context, input any) (any, error) {
	st, err := stateAs[interactionState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}
	target, err := b.persona(st.Trigger.TargetPersonaID)
	if err != nil {
		return nil, err
	}
	if err := b.checkQuota(ctx, p.ID); err != nil {
		return nil, err
	}

	post, err := b.cfg.Platform(p.ID).Publish(ctx, st.Message, nil)
	if err != nil {
		return nil, fmt.Errorf("publish interaction: %w", err)
	}
	b.governor(p.ID).RecordPost(ctx)

	st.Actions = append(st.Actions, api.ActionTaken{
		Type:      "interaction",
		ContentID: post.ID,
		Detail:    "with " + target.ID,
	})
	b.logActivity(ctx, persistence.ActivityEntry{
		PersonaID: p.ID,
		Type:      "interaction",
		Detail:    "with " + target.ID,
		Ref:       post.ID,
	})
	b.bumpRelationship(ctx, p.ID, target.ID, "")
	b.bumpRelationship(ctx, target.ID, p.ID, "")

	// Sometimes the target notices and answers a few minutes later. The
	// follow-up is a plain reactive run scheduled through the task queue.
	if b.cfg.Worker != nil && b.float64() < followUpChance {
		delay := time.Duration(2+b.intn(9)) * time.Minute
		followUp := api.Trigger{
			Mode:      api.ModeReactive,
			PersonaID: target.ID,
			Notification: &api.Notification{
				ContentID:    post.ID,
				AuthorID:     p.ID,
				AuthorHandle: p.Handle,
				Text:         st.Message,
				ThreadRootID: post.ID,
				Reason:       "mention",
			},
		}
		if err := b.cfg.Worker.EnqueueRunAt(ctx, followUp, b.cfg.Now().Add(delay)); err != nil {
			b.cfg.Logger.Warn("follow-up enqueue failed",
				zap.String("persona_id", target.ID), zap.Error(err))
		}
	}

	return api.RunResult{
		PersonaID: p.ID,
		Mode:      api.ModeInteraction,
		Actions:   st.Actions,
	}, nil
}
