/*
Package rabbitmq provides a RabbitMQ broadcaster and sender for the bridge.
Broadcasts go to a topic exchange and sends to a direct exchange, both routed by channel key.
It includes an auto-reconnect publisher and supports optional header propagation via a HeaderPropagator.
*/
package rabbitmq
