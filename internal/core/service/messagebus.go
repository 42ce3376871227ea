package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/port"
)

// CommandHandler handles one command type inside the unit of work the bus
// opened for it. The returned string is the command's result, if any.
type CommandHandler[C domain.Command] func(ctx context.Context, uow port.UnitOfWork, cmd C) (string, error)

// EventHandler reacts to one event type.
type EventHandler[E domain.Event] func(ctx context.Context, uow port.UnitOfWork, event E) error

// CommandHandlers maps every command type to its single handler.
type CommandHandlers struct {
	Allocate            CommandHandler[domain.Allocate]
	CreateBatch         CommandHandler[domain.CreateBatch]
	ChangeBatchQuantity CommandHandler[domain.ChangeBatchQuantity]
}

// EventHandlers lists the handlers of every event type in the order they run.
type EventHandlers struct {
	Allocated   []EventHandler[domain.Allocated]
	Deallocated []EventHandler[domain.Deallocated]
	OutOfStock  []EventHandler[domain.OutOfStock]
}

// MessageBus dispatches a command and then drains the events it caused,
// breadth first. It holds no per-call state and can serve concurrent calls.
type MessageBus struct {
	newUnitOfWork port.UnitOfWorkFactory
	commands      CommandHandlers
	events        EventHandlers
	logger        *zap.Logger
}

func NewMessageBus(uowFactory port.UnitOfWorkFactory, commands CommandHandlers, events EventHandlers, logger *zap.Logger) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageBus{
		newUnitOfWork: uowFactory,
		commands:      commands,
		events:        events,
		logger:        logger,
	}
}

// Handle processes msg and every event that follows from it. Command errors
// are returned after the events already collected by the failing unit of
// work have been handled; the rest of the queue is dropped. Event handler
// errors are logged and never returned.
func (b *MessageBus) Handle(ctx context.Context, msg domain.Message) ([]string, error) {
	var results []string
	queue := []domain.Message{msg}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		switch m := next.(type) {
		case domain.Event:
			queue = append(queue, b.handleEvent(ctx, m)...)

		case domain.Command:
			result, events, err := b.handleCommand(ctx, m)
			if err != nil {
				b.logger.Warn("command failed",
					zap.String("command", m.MessageName()),
					zap.Error(err),
				)
				b.drain(ctx, events)
				return results, err
			}
			results = append(results, result)
			queue = append(queue, events...)

		default:
			return results, fmt.Errorf("unsupported message %T", next)
		}
	}
	return results, nil
}

// drain handles events to exhaustion without any command in the queue.
func (b *MessageBus) drain(ctx context.Context, events []domain.Message) {
	for len(events) > 0 {
		next := events[0]
		events = events[1:]
		if e, ok := next.(domain.Event); ok {
			events = append(events, b.handleEvent(ctx, e)...)
		}
	}
}

func (b *MessageBus) handleCommand(ctx context.Context, cmd domain.Command) (string, []domain.Message, error) {
	b.logger.Debug("handling command", zap.String("command", cmd.MessageName()))

	switch c := cmd.(type) {
	case domain.Allocate:
		return runCommand(ctx, b.newUnitOfWork, b.commands.Allocate, c)
	case domain.CreateBatch:
		return runCommand(ctx, b.newUnitOfWork, b.commands.CreateBatch, c)
	case domain.ChangeBatchQuantity:
		return runCommand(ctx, b.newUnitOfWork, b.commands.ChangeBatchQuantity, c)
	}
	return "", nil, NewHandlerNotFoundError(cmd.MessageName())
}

func (b *MessageBus) handleEvent(ctx context.Context, event domain.Event) []domain.Message {
	b.logger.Debug("handling event", zap.String("event", event.MessageName()))

	switch e := event.(type) {
	case domain.Allocated:
		return runEventHandlers(ctx, b, b.events.Allocated, e)
	case domain.Deallocated:
		return runEventHandlers(ctx, b, b.events.Deallocated, e)
	case domain.OutOfStock:
		return runEventHandlers(ctx, b, b.events.OutOfStock, e)
	}
	return nil
}

func runCommand[C domain.Command](ctx context.Context, newUnitOfWork port.UnitOfWorkFactory, handler CommandHandler[C], cmd C) (string, []domain.Message, error) {
	if handler == nil {
		return "", nil, NewHandlerNotFoundError(cmd.MessageName())
	}
	if err := cmd.Validate(); err != nil {
		return "", nil, err
	}

	uow := newUnitOfWork()
	result, err := handler(ctx, uow, cmd)
	return result, collect(uow), err
}

func runEventHandlers[E domain.Event](ctx context.Context, b *MessageBus, handlers []EventHandler[E], event E) []domain.Message {
	var out []domain.Message
	for _, handler := range handlers {
		uow := b.newUnitOfWork()
		if err := handler(ctx, uow, event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event", event.MessageName()),
				zap.Error(err),
			)
		}
		out = append(out, collect(uow)...)
	}
	return out
}

func collect(uow port.UnitOfWork) []domain.Message {
	events := uow.CollectNewEvents()
	out := make([]domain.Message, 0, len(events))
	for _, e := range events {
		out = append(out, e)
	}
	return out
}
