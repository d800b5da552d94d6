// Package connect provides the Connect RPC player service. Messages are
// google.protobuf.Struct values so that no generated code is required.
package connect

// PlayerServiceName is the fully-qualified name of the player service.
const PlayerServiceName = "audioplayer.v1.PlayerService"

// Procedure paths of the player service.
const (
	PlayerServiceCreateProcedure    = "/audioplayer.v1.PlayerService/Create"
	PlayerServicePrepareProcedure   = "/audioplayer.v1.PlayerService/Prepare"
	PlayerServicePlayProcedure      = "/audioplayer.v1.PlayerService/Play"
	PlayerServicePauseProcedure     = "/audioplayer.v1.PlayerService/Pause"
	PlayerServicePlayPauseProcedure = "/audioplayer.v1.PlayerService/PlayPause"
	PlayerServiceStopProcedure      = "/audioplayer.v1.PlayerService/Stop"
	PlayerServiceSeekProcedure      = "/audioplayer.v1.PlayerService/Seek"
	PlayerServiceSetProcedure       = "/audioplayer.v1.PlayerService/Set"
	PlayerServiceDestroyProcedure   = "/audioplayer.v1.PlayerService/Destroy"
	PlayerServiceStatusProcedure    = "/audioplayer.v1.PlayerService/Status"
	PlayerServiceListProcedure      = "/audioplayer.v1.PlayerService/List"
	PlayerServiceRemoveProcedure    = "/audioplayer.v1.PlayerService/Remove"
	PlayerServiceSimulateProcedure  = "/audioplayer.v1.PlayerService/Simulate"
	PlayerServiceSubscribeProcedure = "/audioplayer.v1.PlayerService/Subscribe"
)
