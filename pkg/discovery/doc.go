// Package discovery implements LAN peer discovery over broadcast datagrams.
//
// Every node runs an Announcer, which broadcasts "<id> ON <tcp port>" on the
// discovery port once per interval, and a Listener, which records each sender
// in a neighbor.Table and asks for a delay measurement the first time it sees
// a peer and again every neighbor.MaxLiveness announcements after that.
//
// Typical usage:
//
//	t, _ := discovery.ListenUDP(discovery.DefaultPort, "255.255.255.255")
//	defer t.Close()
//	a, _ := discovery.NewAnnouncer(t, discovery.Announcement{ID: self, Port: port}, time.Second, log)
//	l := discovery.NewListener(t, self, table, measure, log)
//	go a.Run(ctx)
//	l.Run(ctx)
//
// The UDP transport is best effort: lost broadcasts are simply made up by the
// next interval. ChannelBus provides an in-process broadcast domain for tests.
package discovery
