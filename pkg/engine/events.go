package engine

// Inbound events, one per mutation.
const (
	EventUpdate       = "update"
	EventToken        = "token"
	EventAdjustRemove = "adjustRemove"
	EventAdjustHide   = "adjustHide"
	EventAddCard      = "addCard"
	EventEditScore    = "editscore"
	EventChangeVP     = "changeVP"
	EventNewGame      = "newgame"
	EventPauseCounter = "pauseCounter"
	EventReset        = "reset"
	EventLoadGame     = "loadgame"
	EventEndGame      = "endgame"
	EventDeleteGame   = "deletegame"
)

// Server notifications.
const (
	EventGameEnded      = "gameEnded"
	EventGamePaused     = "gamePaused"
	EventGameResumed    = "gameResumed"
	EventNewGameStarted = "newGameStarted"
	EventGameLoaded     = "gameLoaded"
	EventGameDeleted    = "gameDeleted"
	EventServerIP       = "serverIP"
)

// Flip modes of the update event.
const (
	FlipNew      = "new"
	FlipExplicit = "explicit"
)

type filenamePayload struct {
	Filename string `json:"filename"`
}

type endedPayload struct {
	Winners          interface{} `json:"winners"`
	FinalElapsedTime int         `json:"finalElapsedTime"`
}

type endGameRequest struct {
	Superuser bool `json:"superuser"`
}
