package customer

import (
	"fmt"

	"whatsapp-provider/internal/models"

	"github.com/qmuntal/stateless"
)

const (
	triggerActivate = "activate"
	triggerSuspend  = "suspend"
	triggerCancel   = "cancel"
)

// nextStatus runs the account lifecycle machine and returns the status that
// trigger leads to from current.
//
//	Pending   -> Active | Cancelled
//	Active    -> Suspended | Cancelled
//	Suspended -> Active | Cancelled
func nextStatus(current, trigger string) (string, error) {
	machine := stateless.NewStateMachine(current)

	machine.Configure(models.CustomerStatusPending).
		Permit(triggerActivate, models.CustomerStatusActive).
		Permit(triggerCancel, models.CustomerStatusCancelled)

	machine.Configure(models.CustomerStatusActive).
		Permit(triggerSuspend, models.CustomerStatusSuspended).
		Permit(triggerCancel, models.CustomerStatusCancelled)

	machine.Configure(models.CustomerStatusSuspended).
		Permit(triggerActivate, models.CustomerStatusActive).
		Permit(triggerCancel, models.CustomerStatusCancelled)

	machine.Configure(models.CustomerStatusCancelled)

	if err := machine.Fire(trigger); err != nil {
		return "", fmt.Errorf("%w: cannot %s a %s customer", ErrInvalidTransition, trigger, current)
	}
	return machine.MustState().(string), nil
}
