package nwscript

import (
	"strconv"
	"strings"
)

// GameID selects the engine function and engine type tables.
type GameID int

const (
	GameUnknown GameID = iota
	GameNWN
	GameNWN2
	GameKotOR
	GameKotOR2
	GameJade
	GameWitcher
	GameDragonAge
	GameDragonAge2
)

var gameNames = map[string]GameID{
	"nwn":     GameNWN,
	"nwn2":    GameNWN2,
	"kotor":   GameKotOR,
	"kotor2":  GameKotOR2,
	"jade":    GameJade,
	"witcher": GameWitcher,
	"da":      GameDragonAge,
	"da2":     GameDragonAge2,
}

// ParseGameID maps a game tag ("nwn", "kotor2", ...) to its id.
func ParseGameID(name string) (GameID, bool) {
	g, ok := gameNames[strings.ToLower(name)]
	return g, ok
}

func (g GameID) String() string {
	for name, id := range gameNames {
		if id == g {
			return name
		}
	}

	return "unknown"
}

// engineTypes are the game-specific names of the opaque engine types
// E0..E5. An empty name means the game does not use that slot.
var engineTypes = map[GameID][]string{
	GameNWN:    {"effect", "event", "location", "talent", "itemproperty"},
	GameNWN2:   {"effect", "event", "location", "talent", "itemproperty"},
	GameKotOR:  {"effect", "event", "location", "talent"},
	GameKotOR2: {"effect", "event", "location", "talent"},
	GameJade:   {"effect", "event", "location", ""},
	GameWitcher: {"effect", "event", "location", ""},
}

// EngineTypeCount returns how many engine type slots the game defines.
func EngineTypeCount(game GameID) int {
	return len(engineTypes[game])
}

// EngineTypeName returns the game-specific name of engine type n,
// empty when the game does not define it.
func EngineTypeName(game GameID, n int) string {
	types := engineTypes[game]
	if n < 0 || n >= len(types) {
		return ""
	}

	return types[n]
}

// GenericEngineTypeName returns the game-independent name of engine type n.
func GenericEngineTypeName(n int) string {
	return "E" + strconv.Itoa(n)
}

// functions maps engine routine ids to their scripting names. Only the
// low ids of NWN and KotOR are listed (NWN2 and KotOR2 reuse those
// tables); ids beyond a table, and all ids of games without one, render
// as UnknownFunction<id>.
var functions = map[GameID][]string{
	GameNWN: {
		"Random", "PrintString", "PrintFloat", "FloatToString", "PrintInteger",
		"PrintObject", "AssignCommand", "DelayCommand", "ExecuteScript", "ClearAllActions",
		"SetFacing", "SetCalendar", "SetTime", "GetCalendarYear", "GetCalendarMonth",
		"GetCalendarDay", "GetTimeHour", "GetTimeMinute", "GetTimeSecond", "GetTimeMillisecond",
		"ActionRandomWalk", "ActionMoveToLocation", "ActionMoveToObject", "ActionMoveAwayFromObject", "GetArea",
		"GetEnteringObject", "GetExitingObject", "GetPosition", "GetFacing", "GetItemPossessor",
		"GetItemPossessedBy", "CreateItemOnObject",
	},
	GameKotOR: {
		"Random", "PrintString", "PrintFloat", "FloatToString", "PrintInteger",
		"PrintObject", "AssignCommand", "DelayCommand", "ExecuteScript", "ClearAllActions",
		"SetFacing", "SwitchPlayerCharacter", "SetTime", "SetPartyLeader", "SetAreaUnescapable",
		"GetAreaUnescapable", "GetTimeHour", "GetTimeMinute", "GetTimeSecond", "GetTimeMillisecond",
	},
}

// FunctionName returns the engine API name for an ACTION routine id.
func FunctionName(game GameID, id int32) string {
	table, ok := functions[game]
	if !ok && (game == GameNWN2) {
		table = functions[GameNWN]
	}
	if !ok && (game == GameKotOR2) {
		table = functions[GameKotOR]
	}

	if id >= 0 && int(id) < len(table) {
		return table[id]
	}

	return "UnknownFunction" + strconv.Itoa(int(id))
}

// VariableTypeName returns the NSS keyword for a variable type. Engine
// types resolve through the game table, falling back to the generic name.
func VariableTypeName(t VarType, game GameID) string {
	switch t {
	case VarVoid:
		return "void"
	case VarInt:
		return "int"
	case VarFloat:
		return "float"
	case VarString:
		return "string"
	case VarResource:
		return "resource"
	case VarObject:
		return "object"
	case VarVector:
		return "vector"
	case VarStruct:
		return "struct"
	case VarScriptState:
		return "action"
	case VarEngine0, VarEngine1, VarEngine2, VarEngine3, VarEngine4, VarEngine5:
		n := int(t - VarEngine0)

		if name := EngineTypeName(game, n); name != "" {
			return name
		}

		return GenericEngineTypeName(n)
	}

	return "var"
}
