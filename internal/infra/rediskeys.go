package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных лабы в Redis
	RedisNamespace = "slicepilot"
)

// Ключи состояния
const (
	// RedisKeyReconfigLease — распределенная лиза single-flight: пока ключ жив,
	// ни один другой инстанс агента не начнет свою реконфигурацию.
	RedisKeyReconfigLease = RedisNamespace + ":reconfigure:lease"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanHalt — канал остановки контура оператором. Формат "loop:off".
	RedisChanHalt = RedisNamespace + ":loop:halt-signal"

	// RedisChanReconfigured — трансляция свершившихся реконфигураций
	// (для дашбордов и слушателей вне агента).
	RedisChanReconfigured = RedisNamespace + ":reconfigure:applied"
)
