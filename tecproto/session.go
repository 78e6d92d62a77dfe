package tecproto

// Session holds the per-connection state the command grammar can affect:
// whether this connection is subscribed to the streaming report (§4.8).
// "report" (or "report mode") with no further argument returns this flag;
// "report on" / "report off" (also accepted as "report mode on|off") set
// it for the calling session only, not the device globally.
type Session struct {
	ReportOn bool
}
