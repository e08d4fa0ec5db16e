package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/flock/internal/persistence"
	"github.com/petrijr/flock/internal/textgen"
	"github.com/petrijr/flock/pkg/api"
)

// reactiveState flows between the reactive steps.
type reactiveState struct {
	Trigger api.Trigger

	ThreadRootID string
	Thread       []string
	ReplyText    string
	Digest       string

	Actions []api.ActionTaken
}

func (b *Bot) reactiveDefinition() api.RunDefinition {
	return api.RunDefinition{
		Mode: api.ModeReactive,
		Steps: []api.StepDefinition{
			{Name: "load-context", Fn: b.reactiveLoadContext},
			{Name: "fetch-thread", Fn: b.reactiveFetchThread, Retry: &api.RetryPolicy{
				MaxAttempts:    3,
				InitialBackoff: 2 * time.Second,
			}},
			{Name: "decide-reply", Fn: b.reactiveDecideReply},
			{Name: "publish-reply", Fn: b.reactivePublishReply},
		},
	}
}

// reactiveLoadContext validates the inbound notification and applies the two
// gates that need no platform call: the conversation turn ceiling and the
// inbound content policy.
func (b *Bot) reactiveLoadContext(ctx context.Context, input any) (any, error) {
	trig, err := asTrigger(input)
	if err != nil {
		return nil, err
	}
	if trig.Notification == nil {
		return nil, errors.New("reactive run requires a notification")
	}
	p, err := b.persona(trig.PersonaID)
	if err != nil {
		return nil, err
	}

	st := reactiveState{Trigger: trig}
	st.ThreadRootID = trig.Notification.ThreadRootID
	if st.ThreadRootID == "" {
		st.ThreadRootID = trig.Notification.ContentID
	}

	turns, err := b.cfg.Store.CountActivityRef(ctx, p.ID, "reply", st.ThreadRootID)
	if err != nil {
		return nil, fmt.Errorf("count conversation turns: %w", err)
	}
	if turns >= b.cfg.MaxConversationTurns {
		return nil, api.NewSkip(fmt.Sprintf("turn limit (%d/%d)", turns, b.cfg.MaxConversationTurns))
	}

	if b.cfg.Policy != nil && b.cfg.Policy.IsViolating(trig.Notification.Text) {
		return nil, api.NewSkip("policy violation (inbound)")
	}

	mem, err := b.cfg.Store.GetMemory(ctx, p.ID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	st.Digest = mem.Digest
	return st, nil
}

func (b *Bot) reactiveFetchThread(ctx context.Context, input any) (any, error) {
	st, err := stateAs[reactiveState](input)
	if err != nil {
		return nil, err
	}

	items, err := b.cfg.Platform(st.Trigger.PersonaID).Thread(ctx, st.ThreadRootID)
	if err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}
	for _, it := range items {
		st.Thread = append(st.Thread, fmt.Sprintf("@%s: %s", it.AuthorHandle, it.Text))
	}
	return st, nil
}

func (b *Bot) reactiveDecideReply(ctx context.Context, input any) (any, error) {
	st, err := stateAs[reactiveState](input)
	if err != nil {
		return nil, err
	}
	p, err := b.persona(st.Trigger.PersonaID)
	if err != nil {
		return nil, err
	}

	decision, err := b.cfg.Generator.GenerateReply(ctx, textgen.ReplyRequest{
		PersonaID: p.ID,
		Handle:    p.Handle,
		Bio:       p.Bio,
		Thread:    st.Thread,
		Inbound:   st.Trigger.Notification.Text,
		Digest:    st.Digest,
	})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	if !decision.Engage {
		reason := decision.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, api.NewSkip("declined: " + reason)
	}
	if b.cfg.Policy != nil && b.cfg.Policy.IsViolating(decision.Text) {
		return nil, api.NewSkip("policy violation (outbound)")
	}

	st.ReplyText = decision.Text
	return st, nil
}

func (b *Bot) reactivePublishReply(ctx context.Context, input any) (any, error) {
	st, err := stateAs[reactiveState](input)
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

	note := st.Trigger.Notification
	reply, err := b.cfg.Platform(p.ID).Reply(ctx, st.ReplyText, note.ContentID)
	if err != nil {
		return nil, fmt.Errorf("publish reply: %w", err)
	}
	b.governor(p.ID).RecordPost(ctx)

	st.Actions = append(st.Actions, api.ActionTaken{
		Type:      "reply",
		ContentID: reply.ID,
		TargetID:  note.ContentID,
	})
	// Ref is the thread root so the turn ceiling sees every reply in the
	// conversation, not just direct replies to one item.
	b.logActivity(ctx, persistence.ActivityEntry{
		PersonaID: p.ID,
		Type:      "reply",
		Detail:    fmt.Sprintf("to @%s", note.AuthorHandle),
		Ref:       st.ThreadRootID,
	})

	if b.managed[note.AuthorID] {
		b.bumpRelationship(ctx, p.ID, note.AuthorID, "")
	} else {
		b.recordEngagement(ctx, p.ID, note.AuthorID, reply.ID, "reply")
	}

	return api.RunResult{
		PersonaID: p.ID,
		Mode:      api.ModeReactive,
		Actions:   st.Actions,
	}, nil
}
