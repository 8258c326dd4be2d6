package model

import (
	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	Reading               = entities.Reading
	Device                = entities.Device
	ActuatorState         = entities.ActuatorState
	ValveState            = entities.ValveState
	SensorDataMessage     = messages.SensorDataMessage
	ActuatorStatusMessage = messages.ActuatorStatusMessage
	ValveCommand          = messages.ValveCommand
	Alert                 = messages.Alert
)

const (
	ValveOpen          = entities.ValveOpen
	ValveClosed        = entities.ValveClosed
	ValvePartiallyOpen = entities.ValvePartiallyOpen
)
