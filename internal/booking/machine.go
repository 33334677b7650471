package booking

import "fmt"

// Phase is the booking flow's position in the pay-then-reserve sequence.
type Phase string

const (
	// PhaseIdle: composing a selection, nothing provisioned.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingIntent: a payment is being provisioned.
	PhaseAwaitingIntent Phase = "awaiting_intent"
	// PhaseAwaitingPaymentInput: a live handle exists, waiting for card details.
	PhaseAwaitingPaymentInput Phase = "awaiting_payment_input"
	// PhaseConfirming: the processor is confirming the payment.
	PhaseConfirming Phase = "confirming"
	// PhaseSucceeded: payment settled and reservation stored.
	PhaseSucceeded Phase = "succeeded"
)

// ensurePhaseTransition admits exactly the moves the flow makes, including
// the recovery edges back out of a failed step.
func ensurePhaseTransition(oldPhase, newPhase Phase) error {
	switch oldPhase {
	case PhaseIdle:
		if newPhase == PhaseAwaitingIntent {
			return nil
		}
	case PhaseAwaitingIntent:
		// Forward on success, back on provisioning failure.
		if newPhase == PhaseAwaitingPaymentInput || newPhase == PhaseIdle {
			return nil
		}
	case PhaseAwaitingPaymentInput:
		// Forward to confirm, back to re-provision after a stale selection,
		// or all the way back when the handle dies.
		if newPhase == PhaseConfirming || newPhase == PhaseAwaitingIntent || newPhase == PhaseIdle {
			return nil
		}
	case PhaseConfirming:
		// Forward on settle, back to card entry on decline, back to idle
		// when the handle dies.
		if newPhase == PhaseSucceeded || newPhase == PhaseAwaitingPaymentInput || newPhase == PhaseIdle {
			return nil
		}
	case PhaseSucceeded:
		// Reset for the next order.
		if newPhase == PhaseIdle {
			return nil
		}
	}
	return fmt.Errorf("invalid booking phase transition %s -> %s", oldPhase, newPhase)
}
