// Package mqtt relays the bot's activity feed to an MQTT broker.
//
// Every event published on the [events.Bus] is sent as JSON to
// <prefix>/events/<kind>. A retained status document is refreshed on
// <prefix>/status at a fixed interval, and <prefix>/availability
// carries a retained "online"/"offline" flag backed by a will message
// so it flips to "offline" on unexpected disconnects.
//
// Connection management and reconnection come from Eclipse Paho v2's
// [autopaho] package.
package mqtt
