// Package netcode 实现客户端预测与服务端校正：
// 输入编号、本地预测、快照历史、校正重放、远端插值与延迟补偿。
//
// 服务端是唯一权威；客户端的预测状态随时可以被丢弃并由快照替换。
package netcode
