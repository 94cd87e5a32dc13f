// Package compensable implements the compensation (saga) core of a workflow
// engine.
//
// A compensable unit is a scope of work that, once completed, is either
// confirmed (its effects are kept) or compensated (its effects are undone).
// Units may also be canceled while still running. The Coordinator drives each
// unit through that lifecycle and signals the unit's resumption handles so
// the host scheduler can resume whatever it parked on them.
//
// Overview
//
//  1. Provide a Scheduler. LocalScheduler is an in-process, cooperative
//     implementation: signals queue continuations and RunPending runs them
//     one at a time.
//  2. Create a Coordinator with NewCoordinator, optionally passing a
//     TimerService (WithTimers), a snapshot Store (WithStore) and a
//     HandlerRegistry (WithRegistry).
//  3. Schedule units with Coordinator.Schedule and run them with
//     Coordinator.Run. Wire continuations to a unit with Unit.SetHandle.
//  4. Decide each unit's outcome with Confirm, Compensate or Cancel, or
//     settle everything at once with ConfirmAll / CompensateAll, which
//     visit units most-recent-first.
//
// Handlers can request a durable checkpoint with UnitContext.Checkpoint.
// A handler fault is offered to the enclosing scopes' OnFault handlers; if
// none contains it, the whole instance is aborted and every further
// operation returns a *TerminationError.
//
// Example:
//
//	sched := compensable.NewLocalScheduler()
//	coord := compensable.NewCoordinator(sched)
//
//	u, _ := coord.Schedule(nil, compensable.WithHandlers(compensable.Handlers{
//	    Body:       reserve,
//	    Compensate: release,
//	}))
//	if err := coord.Run(ctx, u); err != nil {
//	    return err
//	}
//	return coord.CompensateAll(ctx)
package compensable
